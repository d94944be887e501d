// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/stats"
)

const (
	testAddr1 = "2001:db8:0:1111::11"
	testAddr2 = "2001:db8:0:1111::12"
	testPort  = 1025
	testFam   = 10

	testTsSec = uint64(1449495977)
)

func testConfig() *cmn.Config {
	config := cmn.DefaultConfig()
	// keep effective space positive for the small filesystems used in tests
	config.ReservedSpace = 100
	return config
}

func setWallClock(t *testing.T, sec uint64) {
	t.Helper()
	prev := stats.WallClock
	stats.WallClock = func() time.Time { return time.Unix(int64(sec), 0) }
	t.Cleanup(func() { stats.WallClock = prev })
}

type env struct {
	t *testing.T
	s *Storage
}

func newEnv(t *testing.T) *env {
	setWallClock(t, testTsSec)
	return &env{t: t, s: New(testConfig())}
}

func (e *env) addNode(addr, name, dc string) *Node {
	host := e.s.GetHost(addr)
	host.SetName(name)
	host.SetDC(dc)
	if n, ok := e.s.GetNode(NodeKey(addr, testPort, testFam)); ok {
		return n
	}
	return e.s.AddNode(host, testPort, testFam)
}

// bstat builds a healthy enabled backend stat; mutate it per test.
func bstat(id, group, fsid uint64) BackendStat {
	return BackendStat{
		BackendID:    id,
		State:        BackendStateEnabled,
		Group:        group,
		Fsid:         fsid,
		VfsBlocks:    1000000,
		VfsBavail:    900000,
		VfsBsize:     4096,
		RecordsTotal: 100,
	}
}

// apply feeds one parsed stats document to the node at the given timestamp.
func (e *env) apply(n *Node, tsSec uint64, backends ...BackendStat) {
	parsed := &ParsedStats{
		Node:     NodeStat{TsSec: tsSec, La1: 50},
		Backends: backends,
	}
	n.ApplyStats(parsed)
}

// applyRofs is apply with a stat_commit EROFS side map.
func (e *env) applyRofs(n *Node, tsSec uint64, rofs map[uint64]uint64, backends ...BackendStat) {
	parsed := &ParsedStats{
		Node:       NodeStat{TsSec: tsSec, La1: 50},
		Backends:   backends,
		RofsErrors: rofs,
	}
	n.ApplyStats(parsed)
}

func (e *env) process() {
	e.s.ProcessNodeBackends()
	e.s.ProcessNewJobs()
}

func (e *env) update() {
	e.process()
	e.s.Update()
}

func packV1(couple ...int) []byte {
	arr := make([]any, len(couple))
	for i, id := range couple {
		arr[i] = id
	}
	data, err := msgpack.Marshal(arr)
	if err != nil {
		panic(err)
	}
	return data
}

type metaV2 struct {
	couple    []int
	namespace string
	frozen    bool
	typ       string
	migrating bool
	jobID     string
}

func packV2(md metaV2) []byte {
	doc := map[string]any{
		"version": 2,
	}
	if len(md.couple) != 0 {
		couple := make([]any, len(md.couple))
		for i, id := range md.couple {
			couple[i] = id
		}
		doc["couple"] = couple
	}
	if md.namespace != "" {
		doc["namespace"] = md.namespace
	}
	if md.frozen {
		doc["frozen"] = true
	}
	if md.typ != "" {
		doc["type"] = md.typ
	}
	if md.migrating || md.jobID != "" {
		svc := map[string]any{}
		if md.migrating {
			svc["status"] = "MIGRATING"
		}
		if md.jobID != "" {
			svc["job_id"] = md.jobID
		}
		doc["service"] = svc
	}
	data, err := msgpack.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func nsToTs(sec uint64) uint64 { return sec * 1000000000 }
