// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

type NodeStat struct {
	TsSec  uint64
	TsUsec uint64

	La1     uint64
	TxBytes uint64
	RxBytes uint64

	LoadAverage float64
	TxRate      float64
	RxRate      float64
}

func (s *NodeStat) Timestamp() uint64 { return s.TsSec*1000000 + s.TsUsec }

type NodeClockStat struct {
	StatsParse uint64
	UpdateFS   uint64
}

// ParsedStats is the product of one monitor-stats document.
type ParsedStats struct {
	Node       NodeStat
	Backends   []BackendStat
	RofsErrors map[uint64]uint64
}

// Node is identified by "addr:port:family" and owns its backends and
// filesystems.
type Node struct {
	storage *Storage
	host    *Host

	port   int
	family int
	key    string

	stat  NodeStat
	clock NodeClockStat

	backends    map[uint64]*Backend
	filesystems map[uint64]*FS

	// backends observed for the first time since the last
	// ProcessNodeBackends pass
	newBackends []*Backend

	commandStat CommandStat
}

func NodeKey(addr string, port, family int) string {
	return fmt.Sprintf("%s:%d:%d", addr, port, family)
}

func newNode(storage *Storage, host *Host, port, family int) *Node {
	return &Node{
		storage:     storage,
		host:        host,
		port:        port,
		family:      family,
		key:         NodeKey(host.Addr(), port, family),
		backends:    make(map[uint64]*Backend),
		filesystems: make(map[uint64]*FS),
	}
}

func (n *Node) Key() string     { return n.key }
func (n *Node) Host() *Host     { return n.host }
func (n *Node) Port() int       { return n.port }
func (n *Node) Family() int     { return n.family }
func (n *Node) Stat() *NodeStat { return &n.stat }

func (n *Node) Backends() map[uint64]*Backend { return n.backends }
func (n *Node) Filesystems() map[uint64]*FS   { return n.filesystems }

func (n *Node) ClockStat() *NodeClockStat { return &n.clock }

func (n *Node) SetStatsParseDuration(ns uint64) { n.clock.StatsParse = ns }

// ApplyStats folds one parsed monitor-stats document into the node.
// Backend objects in the document carry no individual timestamps; they
// inherit the node's.
func (n *Node) ApplyStats(parsed *ParsedStats) {
	n.update(&parsed.Node)

	n.commandStat.Clear()

	for i := range parsed.Backends {
		stat := &parsed.Backends[i]
		stat.TsSec = parsed.Node.TsSec
		stat.TsUsec = parsed.Node.TsUsec

		if count, ok := parsed.RofsErrors[stat.BackendID]; ok {
			stat.StatCommitRofsErrors = count
		}

		n.handleBackend(stat)
	}
}

func (n *Node) update(stat *NodeStat) {
	ts1 := float64(n.stat.TsSec) + float64(n.stat.TsUsec)/1000000.0
	ts2 := float64(stat.TsSec) + float64(stat.TsUsec)/1000000.0
	dTs := ts2 - ts1

	if dTs > 1.0 {
		if n.stat.TxBytes < stat.TxBytes {
			n.stat.TxRate = float64(stat.TxBytes-n.stat.TxBytes) / dTs
		}
		if n.stat.RxBytes < stat.RxBytes {
			n.stat.RxRate = float64(stat.RxBytes-n.stat.RxBytes) / dTs
		}
	}

	n.stat.LoadAverage = float64(stat.La1) / 100.0

	n.stat.TsSec = stat.TsSec
	n.stat.TsUsec = stat.TsUsec
	n.stat.La1 = stat.La1
	n.stat.TxBytes = stat.TxBytes
	n.stat.RxBytes = stat.RxBytes
}

func (n *Node) getFS(fsid uint64) *FS {
	fs, ok := n.filesystems[fsid]
	if !ok {
		fs = newFS(n, fsid)
		n.filesystems[fsid] = fs
	}
	return fs
}

func (n *Node) handleBackend(stat *BackendStat) {
	if stat.Group == 0 {
		log().Debugw("skipping backend with zero group id", "node", n.key, "backend_id", stat.BackendID)
		return
	}
	if stat.Fsid == 0 {
		log().Errorw("skipping backend with zero fsid", "node", n.key, "backend_id", stat.BackendID)
		return
	}

	backend, found := n.backends[stat.BackendID]
	if !found && stat.State == 0 {
		log().Debugw("skipping backend in state zero", "node", n.key, "backend_id", stat.BackendID)
		return
	}

	var oldFsid uint64
	if found {
		oldFsid = backend.stat.Fsid
		backend.update(stat)
	} else {
		backend = newBackend(n)
		backend.init(*stat)
		n.backends[stat.BackendID] = backend
		n.newBackends = append(n.newBackends, backend)
	}

	newFsid := backend.stat.Fsid
	newFS := n.getFS(newFsid)
	if newFsid != oldFsid {
		if found {
			log().Infow("updating backend: FS changed", "backend", backend.key,
				"old_fsid", oldFsid, "new_fsid", newFsid)
		}
		if oldFsid != 0 {
			n.getFS(oldFsid).removeBackend(backend)
		}
		backend.setFS(newFS)
		newFS.addBackend(backend)
	}

	backend.recalculate(n.storage.config.ReservedSpace)
	newFS.update(backend)

	n.commandStat.Add(&backend.calc.CommandStat)
}

// takeNewBackends returns the backends observed since the last call and
// resets the list.
func (n *Node) takeNewBackends() []*Backend {
	nb := n.newBackends
	n.newBackends = nil
	return nb
}

func (n *Node) updateBackendStatus(nowSec, stallTimeoutSec uint64) {
	for _, b := range n.backends {
		b.checkStalled(nowSec, stallTimeoutSec)
		b.updateStatus()
	}
}

func (n *Node) updateFilesystems() {
	defer newStopwatch(&n.clock.UpdateFS).Stop()

	for _, fs := range n.filesystems {
		fs.updateCommandStat()
		if fs.updateStatus() {
			// Filesystem status has changed; backend statuses depend on it.
			for _, b := range fs.backends {
				b.updateStatus()
			}
		}
	}
}

func (n *Node) mergeBackends(other *Node, haveNewer *bool) {
	for id, otherBackend := range other.backends {
		mine, ok := n.backends[id]
		if ok {
			if mine.stat.Timestamp() < otherBackend.stat.Timestamp() {
				oldFsid, newFsid := mine.stat.Fsid, otherBackend.stat.Fsid
				if oldFsid != newFsid {
					log().Infow("merging backend: FS changed", "backend", mine.key,
						"old_fsid", oldFsid, "new_fsid", newFsid)
					if oldFsid != 0 {
						n.getFS(oldFsid).removeBackend(mine)
					}
					newFS := n.getFS(newFsid)
					mine.setFS(newFS)
					newFS.addBackend(mine)
				}
			}
			mine.merge(otherBackend, haveNewer)
		} else {
			mine = newBackend(n)
			mine.cloneFrom(otherBackend)
			n.backends[id] = mine
			fs := n.getFS(mine.stat.Fsid)
			fs.addBackend(mine)
			mine.setFS(fs)
			n.newBackends = append(n.newBackends, mine)
		}
	}

	if len(n.backends) > len(other.backends) {
		*haveNewer = true
	}
}

func (n *Node) merge(other *Node, haveNewer *bool) {
	myTs, otherTs := n.stat.Timestamp(), other.stat.Timestamp()
	if myTs < otherTs {
		n.stat = other.stat
		n.clock = other.clock
		n.commandStat = other.commandStat
	} else if myTs > otherTs {
		*haveNewer = true
	}

	n.mergeBackends(other, haveNewer)

	for fsid, otherFS := range other.filesystems {
		mine, ok := n.filesystems[fsid]
		if !ok {
			mine = newFS(n, fsid)
			mine.cloneFrom(otherFS)
			n.filesystems[fsid] = mine
			continue
		}
		mine.merge(otherFS, haveNewer)
	}
	if len(n.filesystems) > len(other.filesystems) {
		*haveNewer = true
	}
}

func (n *Node) writeJSON(s *jsoniter.Stream, showInternals bool) {
	s.WriteObjectStart()

	s.WriteObjectField("id")
	s.WriteString(n.key)
	s.WriteMore()

	s.WriteObjectField("timestamp")
	writeTimestampJSON(s, n.stat.TsSec, n.stat.TsUsec, showInternals)
	s.WriteMore()

	s.WriteObjectField("host_id")
	s.WriteString(n.host.Addr())
	s.WriteMore()
	s.WriteObjectField("port")
	s.WriteInt(n.port)
	s.WriteMore()
	s.WriteObjectField("family")
	s.WriteInt(n.family)
	s.WriteMore()

	s.WriteObjectField("tx_bytes")
	s.WriteUint64(n.stat.TxBytes)
	s.WriteMore()
	s.WriteObjectField("rx_bytes")
	s.WriteUint64(n.stat.RxBytes)
	s.WriteMore()
	s.WriteObjectField("load_average")
	s.WriteFloat64(n.stat.LoadAverage)
	s.WriteMore()
	s.WriteObjectField("tx_rate")
	s.WriteFloat64(n.stat.TxRate)
	s.WriteMore()
	s.WriteObjectField("rx_rate")
	s.WriteFloat64(n.stat.RxRate)
	s.WriteMore()

	s.WriteObjectField("commands_stat")
	n.commandStat.writeJSON(s)

	if showInternals {
		s.WriteMore()
		s.WriteObjectField("la")
		s.WriteUint64(n.stat.La1)
		s.WriteMore()
		s.WriteObjectField("clock_stat")
		s.WriteObjectStart()
		s.WriteObjectField("stats_parse")
		s.WriteUint64(n.clock.StatsParse)
		s.WriteMore()
		s.WriteObjectField("update_fs")
		s.WriteUint64(n.clock.UpdateFS)
		s.WriteObjectEnd()
	}

	s.WriteObjectEnd()
}
