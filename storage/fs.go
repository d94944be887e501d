// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

type FSStatus int

const (
	FSOK FSStatus = iota
	FSBroken
)

func (s FSStatus) String() string {
	switch s {
	case FSOK:
		return "OK"
	case FSBroken:
		return "BROKEN"
	}
	return "UNKNOWN"
}

type FSStat struct {
	TsSec      uint64
	TsUsec     uint64
	TotalSpace int64
}

// FS aggregates the backends sharing one filesystem on a node.
type FS struct {
	node *Node
	fsid uint64
	key  string

	stat   FSStat
	status FSStatus

	backends    map[uint64]*Backend
	commandStat CommandStat
}

func newFS(node *Node, fsid uint64) *FS {
	return &FS{
		node:     node,
		fsid:     fsid,
		key:      node.Key() + "/" + strconv.FormatUint(fsid, 10),
		status:   FSOK,
		backends: make(map[uint64]*Backend),
	}
}

func (fs *FS) Key() string      { return fs.key }
func (fs *FS) Fsid() uint64     { return fs.fsid }
func (fs *FS) Node() *Node      { return fs.node }
func (fs *FS) Status() FSStatus { return fs.status }
func (fs *FS) Stat() *FSStat    { return &fs.stat }

func (fs *FS) cloneFrom(other *FS) {
	fs.fsid = other.fsid
	fs.key = other.key
	fs.stat = other.stat
	fs.status = other.status

	if len(other.backends) != 0 {
		log().Errorf("internal inconsistency: cloning FS %q from one with a non-empty set of backends", fs.key)
	}
}

func (fs *FS) addBackend(b *Backend)    { fs.backends[b.stat.BackendID] = b }
func (fs *FS) removeBackend(b *Backend) { delete(fs.backends, b.stat.BackendID) }

// update refreshes the filesystem stat from one of its backends.
func (fs *FS) update(b *Backend) {
	fs.stat.TsSec = b.stat.TsSec
	fs.stat.TsUsec = b.stat.TsUsec
	fs.stat.TotalSpace = b.VfsTotalSpace()
}

func (fs *FS) updateCommandStat() {
	fs.commandStat.Clear()
	for _, b := range fs.backends {
		fs.commandStat.Add(&b.calc.CommandStat)
	}
}

// updateStatus recomputes the status and reports whether it changed. The FS
// is OK iff the configured backend totals fit into the filesystem; the sum
// deliberately uses the uncapped blob_size_limit so that an oversubscribing
// limit is detected instead of clamped away.
func (fs *FS) updateStatus() bool {
	prev := fs.status

	var totalSpace int64
	for _, b := range fs.backends {
		if st := b.Status(); st != BackendOK && st != BackendBroken {
			continue
		}
		totalSpace += b.configuredTotalSpace()
	}

	if totalSpace <= fs.stat.TotalSpace {
		fs.status = FSOK
	} else {
		fs.status = FSBroken
	}
	if fs.status != prev {
		log().Infof("FS %s status change %s -> %s", fs.key, prev, fs.status)
		return true
	}
	return false
}

func (fs *FS) timestamp() uint64 { return fs.stat.TsSec*1000000 + fs.stat.TsUsec }

func (fs *FS) merge(other *FS, haveNewer *bool) {
	myTs, otherTs := fs.timestamp(), other.timestamp()
	if myTs < otherTs {
		fs.stat = other.stat
		fs.status = other.status
	} else if myTs > otherTs {
		*haveNewer = true
	}
}

func (fs *FS) writeJSON(s *jsoniter.Stream, showInternals bool) {
	s.WriteObjectStart()

	s.WriteObjectField("timestamp")
	writeTimestampJSON(s, fs.stat.TsSec, fs.stat.TsUsec, showInternals)
	s.WriteMore()

	s.WriteObjectField("host")
	s.WriteString(fs.node.Host().Addr())
	s.WriteMore()
	s.WriteObjectField("fsid")
	s.WriteUint64(fs.fsid)
	s.WriteMore()
	s.WriteObjectField("total_space")
	s.WriteInt64(fs.stat.TotalSpace)
	s.WriteMore()
	s.WriteObjectField("status")
	s.WriteString(fs.status.String())

	if showInternals {
		s.WriteMore()
		s.WriteObjectField("commands_stat")
		fs.commandStat.writeJSON(s)
	}

	s.WriteObjectEnd()
}
