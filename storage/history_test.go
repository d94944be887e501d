// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func marshalBSON(t *testing.T, doc bson.M) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func historyNode(ts float64, typ string, set ...bson.M) bson.M {
	arr := bson.A{}
	for _, b := range set {
		arr = append(arr, b)
	}
	return bson.M{"timestamp": ts, "type": typ, "set": arr}
}

func historySetEntry(hostname string, backendID uint64) bson.M {
	return bson.M{
		"hostname":   hostname,
		"port":       testPort,
		"family":     testFam,
		"backend_id": backendID,
		"path":       "/path/to/storage/1/1",
	}
}

func TestHistoryEntryEmptyNodes(t *testing.T) {
	raw := marshalBSON(t, bson.M{"group_id": 17, "nodes": bson.A{}})

	entry, err := NewGroupHistoryEntryFromBSON(raw)
	require.NoError(t, err)
	assert.Equal(t, 17, entry.GroupID)
	assert.True(t, entry.Empty())
	assert.Zero(t, entry.Timestamp)
}

func TestHistoryEntryNoGroupID(t *testing.T) {
	raw := marshalBSON(t, bson.M{"nodes": bson.A{}})

	_, err := NewGroupHistoryEntryFromBSON(raw)
	assert.Error(t, err)
}

func TestHistoryEntryOneBackend(t *testing.T) {
	raw := marshalBSON(t, bson.M{
		"group_id": 29,
		"nodes": bson.A{
			historyNode(1449240697.0, "manual", historySetEntry("node1.example.com", 31)),
		},
	})

	entry, err := NewGroupHistoryEntryFromBSON(raw)
	require.NoError(t, err)
	assert.Equal(t, 29, entry.GroupID)
	assert.Equal(t, 1449240697.0, entry.Timestamp)
	assert.False(t, entry.Empty())
	require.Len(t, entry.Backends, 1)
	assert.Contains(t, entry.Backends, HistoryBackend{
		Hostname: "node1.example.com", Port: testPort, Family: testFam, BackendID: 31,
	})
}

func TestHistoryEntryAutomaticSkipped(t *testing.T) {
	raw := marshalBSON(t, bson.M{
		"group_id": 29,
		"nodes": bson.A{
			historyNode(1449240697.0, "automatic", historySetEntry("node1.example.com", 31)),
		},
	})

	entry, err := NewGroupHistoryEntryFromBSON(raw)
	require.NoError(t, err)
	assert.True(t, entry.Empty())
}

func TestHistoryEntryMostRecentNodeWins(t *testing.T) {
	raw := marshalBSON(t, bson.M{
		"group_id": 29,
		"nodes": bson.A{
			historyNode(1449240697.0, "manual", historySetEntry("node1.example.com", 31)),
			historyNode(1449240999.0, "job", historySetEntry("node2.example.com", 37)),
			historyNode(1449240100.0, "manual", historySetEntry("node1.example.com", 41)),
		},
	})

	entry, err := NewGroupHistoryEntryFromBSON(raw)
	require.NoError(t, err)
	assert.Equal(t, 1449240999.0, entry.Timestamp)
	require.Len(t, entry.Backends, 1)
	assert.Contains(t, entry.Backends, HistoryBackend{
		Hostname: "node2.example.com", Port: testPort, Family: testFam, BackendID: 37,
	})
}

// historyEnv builds group 1 with backends on two named hosts.
func historyEnv(t *testing.T) *env {
	e := newEnv(t)
	n1 := e.addNode(testAddr1, "node1.example.com", "dc1")
	n2 := e.addNode(testAddr2, "node2.example.com", "dc2")
	e.apply(n1, testTsSec, bstat(1, 1, 7))
	e.apply(n2, testTsSec, bstat(1, 1, 8))
	return e
}

func backendKeys(g *Group) []string { return g.sortedBackendKeys() }

func TestGroupHistoryNoChanges(t *testing.T) {
	e := historyEnv(t)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{{
		GroupID:   1,
		Timestamp: float64(testTsSec + 100),
		Backends: map[HistoryBackend]struct{}{
			{Hostname: "node1.example.com", Port: testPort, Family: testFam, BackendID: 1}: {},
			{Hostname: "node2.example.com", Port: testPort, Family: testFam, BackendID: 1}: {},
		},
	}}, nsToTs(testTsSec))
	e.update()

	assert.Equal(t, []string{
		testAddr1 + ":1025:10/1",
		testAddr2 + ":1025:10/1",
	}, backendKeys(e.s.Groups()[1]))
}

func TestGroupHistoryRemoveOneBackend(t *testing.T) {
	e := historyEnv(t)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{{
		GroupID:   1,
		Timestamp: float64(testTsSec + 100),
		Backends: map[HistoryBackend]struct{}{
			{Hostname: "node1.example.com", Port: testPort, Family: testFam, BackendID: 1}: {},
		},
	}}, nsToTs(testTsSec))
	e.update()

	assert.Equal(t, []string{testAddr1 + ":1025:10/1"}, backendKeys(e.s.Groups()[1]))
}

func TestGroupHistoryAllRemoved(t *testing.T) {
	e := historyEnv(t)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{{
		GroupID:   1,
		Timestamp: float64(testTsSec + 100),
		Backends:  map[HistoryBackend]struct{}{},
	}}, nsToTs(testTsSec))
	e.update()

	assert.Empty(t, backendKeys(e.s.Groups()[1]))
	assert.Equal(t, GroupInit, e.s.Groups()[1].Status())
}

func TestGroupHistoryDifferentSet(t *testing.T) {
	// Backends in the history entry were never observed: membership becomes
	// empty, not partially invented.
	e := historyEnv(t)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{{
		GroupID:   1,
		Timestamp: float64(testTsSec + 100),
		Backends: map[HistoryBackend]struct{}{
			{Hostname: "node3.example.com", Port: testPort, Family: testFam, BackendID: 9}: {},
		},
	}}, nsToTs(testTsSec))
	e.update()

	assert.Empty(t, backendKeys(e.s.Groups()[1]))
}

func TestGroupHistoryOlderEntryIgnored(t *testing.T) {
	// The entry predates the backend observation: the reported set stays.
	e := historyEnv(t)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{{
		GroupID:   1,
		Timestamp: float64(testTsSec - 100),
		Backends: map[HistoryBackend]struct{}{
			{Hostname: "node1.example.com", Port: testPort, Family: testFam, BackendID: 1}: {},
		},
	}}, nsToTs(testTsSec))
	e.update()

	assert.Len(t, backendKeys(e.s.Groups()[1]), 2)
}

func TestSaveGroupHistoryKeepsNewest(t *testing.T) {
	e := newEnv(t)
	older := &GroupHistoryEntry{GroupID: 1, Timestamp: 100, Backends: map[HistoryBackend]struct{}{}}
	newer := &GroupHistoryEntry{GroupID: 1, Timestamp: 200, Backends: map[HistoryBackend]struct{}{}}

	e.s.SaveGroupHistory([]*GroupHistoryEntry{newer}, 1)
	e.s.SaveGroupHistory([]*GroupHistoryEntry{older}, 2)

	assert.Equal(t, newer, e.s.groupHistory[1])
	assert.Equal(t, uint64(2), e.s.GroupHistoryTs())
}
