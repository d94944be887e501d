// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupParseMetadataV1(t *testing.T) {
	e := newEnv(t)
	g := e.s.GetOrCreateGroup(17)
	g.SaveMetadata(packV1(17, 19, 23), nsToTs(testTsSec))

	require.NoError(t, g.parseMetadata())
	require.True(t, g.MetadataParsed())

	md := g.Metadata()
	assert.Equal(t, 1, md.Version)
	assert.False(t, md.Frozen)
	assert.Equal(t, []int{17, 19, 23}, md.Couple)
	assert.Equal(t, "default", md.Namespace)
	assert.Empty(t, md.Type)
	assert.False(t, md.ServiceMigrating)
	assert.Empty(t, md.ServiceJobID)

	g.calculateType()
	assert.Equal(t, GroupData, g.Type())
	assert.Equal(t, GroupInit, g.Status())
}

func TestGroupParseMetadataV2(t *testing.T) {
	e := newEnv(t)
	g := e.s.GetOrCreateGroup(29)
	g.SaveMetadata(packV2(metaV2{
		couple:    []int{29, 31, 37},
		namespace: "storage",
		frozen:    true,
		typ:       "cache",
		migrating: true,
		jobID:     "12345",
	}), nsToTs(testTsSec))

	require.NoError(t, g.parseMetadata())
	require.True(t, g.MetadataParsed())

	md := g.Metadata()
	assert.Equal(t, 2, md.Version)
	assert.True(t, md.Frozen)
	assert.Equal(t, []int{29, 31, 37}, md.Couple)
	assert.Equal(t, "storage", md.Namespace)
	assert.Equal(t, "cache", md.Type)
	assert.True(t, md.ServiceMigrating)
	assert.Equal(t, "12345", md.ServiceJobID)

	g.calculateType()
	assert.Equal(t, GroupCache, g.Type())
}

func TestGroupParseMetadataGarbage(t *testing.T) {
	e := newEnv(t)
	g := e.s.GetOrCreateGroup(5)
	g.SaveMetadata([]byte{0xc1, 0xff, 0x00}, nsToTs(testTsSec))

	assert.Error(t, g.parseMetadata())
	assert.False(t, g.MetadataParsed())
}

func TestGroupStatusInitWithoutBackends(t *testing.T) {
	// Group 2 exists only by reference from group 1's metadata couple.
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec, bstat(101, 1, 7))
	e.process()
	e.s.Groups()[1].SaveMetadata(packV2(metaV2{couple: []int{1, 2}, namespace: "default"}), nsToTs(testTsSec))
	e.s.Update()

	require.Len(t, e.s.Groups(), 2)
	g2, ok := e.s.Groups()[2]
	require.True(t, ok)
	assert.Equal(t, GroupInit, g2.Status())
	assert.Empty(t, g2.Backends())
}

func TestGroupStatusCoupled(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec, bstat(101, 1, 7), bstat(102, 2, 8))
	e.process()
	e.s.Groups()[1].SaveMetadata(packV1(1, 2), nsToTs(testTsSec))
	e.s.Groups()[2].SaveMetadata(packV1(1, 2), nsToTs(testTsSec))
	e.s.Update()

	assert.Equal(t, GroupCoupled, e.s.Groups()[1].Status())
	assert.Equal(t, GroupCoupled, e.s.Groups()[2].Status())

	c, ok := e.s.Couples()["1:2"]
	require.True(t, ok)
	assert.Equal(t, CoupleOK, c.Status())

	ns, ok := e.s.Namespaces()["default"]
	require.True(t, ok)
	assert.Contains(t, ns.Couples(), "1:2")
}

func TestGroupStatusInitWithoutMetadata(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec, bstat(101, 1, 7))
	e.update()

	assert.Equal(t, GroupInit, e.s.Groups()[1].Status())
}

func TestGroupDhtForbidden(t *testing.T) {
	e := newEnv(t)
	e.s.config.ForbiddenDhtGroups = 1

	n1 := e.addNode(testAddr1, "node1.example.com", "dc1")
	n2 := e.addNode(testAddr2, "node2.example.com", "dc2")

	e.apply(n1, testTsSec, bstat(101, 1, 7))
	e.apply(n2, testTsSec, bstat(102, 1, 7))
	e.process()
	e.s.Groups()[1].SaveMetadata(packV1(1), nsToTs(testTsSec))
	e.s.Update()

	g := e.s.Groups()[1]
	assert.Equal(t, GroupBroken, g.Status())
	assert.Contains(t, g.StatusText(), "DHT")
}

func TestGroupStalledBackendMakesBad(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec, bstat(101, 1, 7))
	e.process()
	e.s.Groups()[1].SaveMetadata(packV1(1), nsToTs(testTsSec))

	setWallClock(t, testTsSec+1000)
	e.s.Update()

	g := e.s.Groups()[1]
	assert.Equal(t, GroupBad, g.Status())
	assert.Contains(t, g.StatusText(), "STALLED")
}

func TestGroupMigrating(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	ro := bstat(101, 1, 7)
	ro.ReadOnly = true
	e.apply(n, testTsSec, ro)

	e.s.SaveNewJobs([]*Job{{ID: "4ebb6284", Group: 1, Type: JobMove, Status: JobNew}}, nsToTs(testTsSec))
	e.process()

	e.s.Groups()[1].SaveMetadata(packV2(metaV2{
		couple:    []int{1},
		namespace: "default",
		migrating: true,
		jobID:     "4ebb6284",
	}), nsToTs(testTsSec))
	e.s.Update()

	g := e.s.Groups()[1]
	assert.Equal(t, GroupMigrating, g.Status())
	assert.Contains(t, g.StatusText(), "4ebb6284")
}

func TestGroupReadOnlyWithoutJobIsBad(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	ro := bstat(101, 1, 7)
	ro.ReadOnly = true
	e.apply(n, testTsSec, ro)
	e.process()
	e.s.Groups()[1].SaveMetadata(packV2(metaV2{
		couple:    []int{1},
		namespace: "default",
		migrating: true,
		jobID:     "no-such-job",
	}), nsToTs(testTsSec))
	e.s.Update()

	assert.Equal(t, GroupBad, e.s.Groups()[1].Status())
}

func TestGroupRehomedOnReportedGroupChange(t *testing.T) {
	e := newEnv(t)
	n := e.addNode(testAddr1, "node1.example.com", "dc1")

	e.apply(n, testTsSec, bstat(101, 1, 7))
	e.update()
	require.Contains(t, e.s.Groups()[1].Backends(), testAddr1+":1025:10/101")

	setWallClock(t, testTsSec+10)
	e.apply(n, testTsSec+10, bstat(101, 2, 7))
	e.update()

	assert.Empty(t, e.s.Groups()[1].Backends())
	assert.Contains(t, e.s.Groups()[2].Backends(), testAddr1+":1025:10/101")
}
