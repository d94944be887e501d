// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	jsoniter "github.com/json-iterator/go"
)

// CommandStat aggregates per-command size/time sums reported by backends.
// Node and FS keep a sum over their backends.
type CommandStat struct {
	CacheReadSize  uint64
	CacheWriteSize uint64
	DiskReadSize   uint64
	DiskWriteSize  uint64
	CacheReadTime  uint64
	CacheWriteTime uint64
	DiskReadTime   uint64
	DiskWriteTime  uint64
}

func (cs *CommandStat) Add(other *CommandStat) {
	cs.CacheReadSize += other.CacheReadSize
	cs.CacheWriteSize += other.CacheWriteSize
	cs.DiskReadSize += other.DiskReadSize
	cs.DiskWriteSize += other.DiskWriteSize
	cs.CacheReadTime += other.CacheReadTime
	cs.CacheWriteTime += other.CacheWriteTime
	cs.DiskReadTime += other.DiskReadTime
	cs.DiskWriteTime += other.DiskWriteTime
}

func (cs *CommandStat) Clear() {
	*cs = CommandStat{}
}

func (cs *CommandStat) writeJSON(s *jsoniter.Stream) {
	s.WriteObjectStart()
	s.WriteObjectField("ell_cache_read_size")
	s.WriteUint64(cs.CacheReadSize)
	s.WriteMore()
	s.WriteObjectField("ell_cache_write_size")
	s.WriteUint64(cs.CacheWriteSize)
	s.WriteMore()
	s.WriteObjectField("ell_disk_read_size")
	s.WriteUint64(cs.DiskReadSize)
	s.WriteMore()
	s.WriteObjectField("ell_disk_write_size")
	s.WriteUint64(cs.DiskWriteSize)
	s.WriteMore()
	s.WriteObjectField("ell_cache_read_time")
	s.WriteUint64(cs.CacheReadTime)
	s.WriteMore()
	s.WriteObjectField("ell_cache_write_time")
	s.WriteUint64(cs.CacheWriteTime)
	s.WriteMore()
	s.WriteObjectField("ell_disk_read_time")
	s.WriteUint64(cs.DiskReadTime)
	s.WriteMore()
	s.WriteObjectField("ell_disk_write_time")
	s.WriteUint64(cs.DiskWriteTime)
	s.WriteObjectEnd()
}
