// Package monitor parses per-node monitor statistics documents
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package monitor

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/mastermind/collector/storage"
)

// Monitor categories requested from a node; the bitmask goes into the stats
// URL query.
const (
	CategoryProcfs   = 1 << 0
	CategoryBackend  = 1 << 4
	CategoryStats    = 1 << 1
	CategoryCommands = 1 << 5
	CategoryIO       = 1 << 6

	Categories = CategoryProcfs | CategoryBackend | CategoryStats | CategoryCommands | CategoryIO
)

const rofsErrorSuffix = ".disk.stat_commit.errors.30" // 30 == EROFS

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Parse consumes one monitor-stats document. Individual fields are
// best-effort: missing fields and unknown keys are tolerated in any order.
// Only a malformed document as a whole is an error.
func Parse(data []byte) (*storage.ParsedStats, error) {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	parsed := &storage.ParsedStats{
		RofsErrors: make(map[uint64]uint64),
	}

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, errors.New("monitor stats: document is not an object")
	}

	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "timestamp":
			parseTimestamp(iter, &parsed.Node.TsSec, &parsed.Node.TsUsec)
		case "procfs":
			parseProcfs(iter, &parsed.Node)
		case "backends":
			parseBackends(iter, parsed)
		case "stats":
			parseTopStats(iter, parsed)
		default:
			iter.Skip()
		}
	}

	if iter.Error != nil {
		return nil, errors.Wrap(iter.Error, "monitor stats")
	}
	return parsed, nil
}

func parseTimestamp(iter *jsoniter.Iterator, sec, usec *uint64) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "tv_sec":
			*sec = iter.ReadUint64()
		case "tv_usec":
			*usec = iter.ReadUint64()
		default:
			iter.Skip()
		}
	}
}

func parseProcfs(iter *jsoniter.Iterator, stat *storage.NodeStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "vm":
			parseVM(iter, stat)
		case "net":
			parseNet(iter, stat)
		default:
			iter.Skip()
		}
	}
}

func parseVM(iter *jsoniter.Iterator, stat *storage.NodeStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		if field != "la" {
			iter.Skip()
			continue
		}
		idx := 0
		for iter.ReadArray() {
			if idx == 0 {
				stat.La1 = iter.ReadUint64()
			} else {
				iter.Skip()
			}
			idx++
		}
	}
}

func parseNet(iter *jsoniter.Iterator, stat *storage.NodeStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		if field != "net_interfaces" {
			iter.Skip()
			continue
		}
		for ifname := iter.ReadObject(); ifname != ""; ifname = iter.ReadObject() {
			// loopback counters are excluded from the node totals
			if ifname == "lo" {
				iter.Skip()
				continue
			}
			parseInterface(iter, stat)
		}
	}
}

func parseInterface(iter *jsoniter.Iterator, stat *storage.NodeStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "receive":
			stat.RxBytes += parseBytes(iter)
		case "transmit":
			stat.TxBytes += parseBytes(iter)
		default:
			iter.Skip()
		}
	}
}

func parseBytes(iter *jsoniter.Iterator) uint64 {
	var bytes uint64
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		if field == "bytes" {
			bytes = iter.ReadUint64()
		} else {
			iter.Skip()
		}
	}
	return bytes
}

func parseBackends(iter *jsoniter.Iterator, parsed *storage.ParsedStats) {
	for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
		var stat storage.BackendStat
		if id, err := strconv.ParseUint(key, 10, 64); err == nil {
			stat.BackendID = id
		}
		parseBackend(iter, &stat)
		parsed.Backends = append(parsed.Backends, stat)
	}
}

func parseBackend(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "backend_id":
			stat.BackendID = iter.ReadUint64()
		case "backend":
			parseBackendBody(iter, stat)
		case "commands":
			parseCommands(iter, stat)
		case "io":
			parseIOQueues(iter, stat)
		case "status":
			parseBackendStatus(iter, stat)
		default:
			iter.Skip()
		}
	}
}

func parseBackendBody(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "base_stats":
			parseBaseStats(iter, stat)
		case "config":
			parseBackendConfig(iter, stat)
		case "dstat":
			parseDstat(iter, stat)
		case "summary_stats":
			parseSummaryStats(iter, stat)
		case "vfs":
			parseVfs(iter, stat)
		default:
			iter.Skip()
		}
	}
}

// parseBaseStats takes the maximum base_size over all blob files.
func parseBaseStats(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for blob := iter.ReadObject(); blob != ""; blob = iter.ReadObject() {
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if field != "base_size" {
				iter.Skip()
				continue
			}
			if size := iter.ReadUint64(); size > stat.MaxBlobBaseSize {
				stat.MaxBlobBaseSize = size
			}
		}
	}
}

func parseBackendConfig(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "blob_size":
			stat.BlobSize = iter.ReadUint64()
		case "blob_size_limit":
			stat.BlobSizeLimit = iter.ReadUint64()
		case "group":
			stat.Group = iter.ReadUint64()
		case "data":
			stat.DataPath = iter.ReadString()
		case "file":
			stat.FilePath = iter.ReadString()
		default:
			iter.Skip()
		}
	}
}

func parseDstat(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "error":
			stat.DstatError = iter.ReadUint64()
		case "io_ticks":
			stat.IoTicks = iter.ReadUint64()
		case "read_ios":
			stat.ReadIos = iter.ReadUint64()
		case "read_sectors":
			stat.ReadSectors = iter.ReadUint64()
		case "read_ticks":
			stat.ReadTicks = iter.ReadUint64()
		case "write_ios":
			stat.WriteIos = iter.ReadUint64()
		case "write_ticks":
			stat.WriteTicks = iter.ReadUint64()
		default:
			iter.Skip()
		}
	}
}

func parseSummaryStats(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "base_size":
			stat.BaseSize = iter.ReadUint64()
		case "records_removed":
			stat.RecordsRemoved = iter.ReadUint64()
		case "records_removed_size":
			stat.RecordsRemovedSize = iter.ReadUint64()
		case "records_total":
			stat.RecordsTotal = iter.ReadUint64()
		case "want_defrag":
			stat.WantDefrag = iter.ReadUint64()
		default:
			iter.Skip()
		}
	}
}

func parseVfs(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "bavail":
			stat.VfsBavail = iter.ReadUint64()
		case "blocks":
			stat.VfsBlocks = iter.ReadUint64()
		case "bsize":
			stat.VfsBsize = iter.ReadUint64()
		case "error":
			stat.VfsError = iter.ReadUint64()
		case "fsid":
			stat.Fsid = iter.ReadUint64()
		default:
			iter.Skip()
		}
	}
}

// parseCommands sums cache/disk sizes and times: reads aggregate LOOKUP and
// READ, writes aggregate WRITE; the internal/outside split is summed.
func parseCommands(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for cmd := iter.ReadObject(); cmd != ""; cmd = iter.ReadObject() {
		var cacheSize, cacheTime, diskSize, diskTime uint64
		for medium := iter.ReadObject(); medium != ""; medium = iter.ReadObject() {
			switch medium {
			case "cache":
				parseCommandMedium(iter, &cacheSize, &cacheTime)
			case "disk":
				parseCommandMedium(iter, &diskSize, &diskTime)
			default:
				iter.Skip()
			}
		}
		switch cmd {
		case "LOOKUP", "READ":
			stat.EllCacheReadSize += cacheSize
			stat.EllCacheReadTime += cacheTime
			stat.EllDiskReadSize += diskSize
			stat.EllDiskReadTime += diskTime
		case "WRITE":
			stat.EllCacheWriteSize += cacheSize
			stat.EllCacheWriteTime += cacheTime
			stat.EllDiskWriteSize += diskSize
			stat.EllDiskWriteTime += diskTime
		}
	}
}

func parseCommandMedium(iter *jsoniter.Iterator, size, tm *uint64) {
	for side := iter.ReadObject(); side != ""; side = iter.ReadObject() {
		if side != "internal" && side != "outside" {
			iter.Skip()
			continue
		}
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			switch field {
			case "size":
				*size += iter.ReadUint64()
			case "time":
				*tm += iter.ReadUint64()
			default:
				iter.Skip()
			}
		}
	}
}

func parseIOQueues(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for queue := iter.ReadObject(); queue != ""; queue = iter.ReadObject() {
		var size uint64
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if field == "current_size" {
				size = iter.ReadUint64()
			} else {
				iter.Skip()
			}
		}
		switch queue {
		case "blocking":
			stat.IoBlockingSize = size
		case "nonblocking":
			stat.IoNonblockingSize = size
		}
	}
}

func parseBackendStatus(iter *jsoniter.Iterator, stat *storage.BackendStat) {
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "defrag_state":
			stat.DefragState = iter.ReadUint64()
		case "last_start":
			parseTimestamp(iter, &stat.LastStartTsSec, &stat.LastStartTsUsec)
		case "read_only":
			stat.ReadOnly = iter.ReadBool()
		case "state":
			stat.State = iter.ReadUint64()
		default:
			iter.Skip()
		}
	}
}

// parseTopStats extracts the per-backend EROFS counters from keys of the
// form "eblob.<id>.disk.stat_commit.errors.30".
func parseTopStats(iter *jsoniter.Iterator, parsed *storage.ParsedStats) {
	for key := iter.ReadObject(); key != ""; key = iter.ReadObject() {
		rest, ok := strings.CutPrefix(key, "eblob.")
		if !ok {
			iter.Skip()
			continue
		}
		idStr, ok := strings.CutSuffix(rest, rofsErrorSuffix)
		if !ok {
			iter.Skip()
			continue
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			iter.Skip()
			continue
		}

		var count uint64
		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if field == "count" {
				count = iter.ReadUint64()
			} else {
				iter.Skip()
			}
		}
		parsed.RofsErrors[id] = count
	}
}
