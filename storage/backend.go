// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
)

// Backend states reported by the storage node.
const (
	BackendStateDisabled = 0
	BackendStateEnabled  = 1
)

type BackendStatus int

const (
	BackendInit BackendStatus = iota
	BackendOK
	BackendRO
	BackendStalled
	BackendBroken
)

func (s BackendStatus) String() string {
	switch s {
	case BackendInit:
		return "INIT"
	case BackendOK:
		return "OK"
	case BackendRO:
		return "RO"
	case BackendStalled:
		return "STALLED"
	case BackendBroken:
		return "BROKEN"
	}
	return "UNKNOWN"
}

// BackendStat is the raw last-observed telemetry of a single backend.
// The timestamp is inherited from the node's monitor stats document.
type BackendStat struct {
	TsSec  uint64
	TsUsec uint64

	BackendID uint64
	State     uint64

	VfsBlocks uint64
	VfsBavail uint64
	VfsBsize  uint64
	VfsError  uint64

	RecordsTotal       uint64
	RecordsRemoved     uint64
	RecordsRemovedSize uint64
	BaseSize           uint64
	Fsid               uint64
	DefragState        uint64
	WantDefrag         uint64

	ReadIos     uint64
	WriteIos    uint64
	ReadTicks   uint64
	WriteTicks  uint64
	IoTicks     uint64
	ReadSectors uint64
	DstatError  uint64

	BlobSizeLimit   uint64
	MaxBlobBaseSize uint64
	BlobSize        uint64

	Group    uint64
	ReadOnly bool

	LastStartTsSec  uint64
	LastStartTsUsec uint64

	DataPath string
	FilePath string

	EllCacheWriteSize uint64
	EllCacheWriteTime uint64
	EllDiskWriteSize  uint64
	EllDiskWriteTime  uint64
	EllCacheReadSize  uint64
	EllCacheReadTime  uint64
	EllDiskReadSize   uint64
	EllDiskReadTime   uint64

	IoBlockingSize    uint64
	IoNonblockingSize uint64

	StatCommitRofsErrors uint64
}

func (s *BackendStat) Timestamp() uint64 { return s.TsSec*1000000 + s.TsUsec }

func (s *BackendStat) lastStart() uint64 {
	return s.LastStartTsSec*1000000 + s.LastStartTsUsec
}

// backendCalc is the computed block. Space, command stats, rates and the
// rofs delta are written when stats are applied (Node.handleBackend);
// Storage.Update writes only the stall flag and the status.
type backendCalc struct {
	VfsTotalSpace int64
	VfsFreeSpace  int64
	VfsUsedSpace  int64

	Records       int64
	Fragmentation float64

	TotalSpace int64
	UsedSpace  int64
	FreeSpace  int64

	EffectiveSpace     int64
	EffectiveFreeSpace int64

	ReadRps     int
	WriteRps    int
	MaxReadRps  int
	MaxWriteRps int

	StatCommitRofsErrorsDiff uint64

	Stalled bool
	Status  BackendStatus

	BasePath    string
	CommandStat CommandStat
}

type Backend struct {
	node  *Node
	fs    *FS
	group *Group

	key  string
	stat BackendStat
	calc backendCalc
}

func newBackend(node *Node) *Backend {
	return &Backend{node: node}
}

func (b *Backend) init(stat BackendStat) {
	b.stat = stat
	b.key = b.node.Key() + "/" + strconv.FormatUint(stat.BackendID, 10)
	b.calculateBasePath(&stat)
}

func (b *Backend) cloneFrom(other *Backend) {
	b.key = other.key
	b.stat = other.stat
	b.calc = other.calc
}

func (b *Backend) Key() string        { return b.key }
func (b *Backend) Node() *Node        { return b.node }
func (b *Backend) FS() *FS            { return b.fs }
func (b *Backend) Group() *Group      { return b.group }
func (b *Backend) Stat() *BackendStat { return &b.stat }

func (b *Backend) Status() BackendStatus { return b.calc.Status }
func (b *Backend) TotalSpace() int64     { return b.calc.TotalSpace }
func (b *Backend) VfsTotalSpace() int64  { return b.calc.VfsTotalSpace }
func (b *Backend) EffectiveSpace() int64 { return b.calc.EffectiveSpace }

func (b *Backend) setFS(fs *FS)      { b.fs = fs }
func (b *Backend) setGroup(g *Group) { b.group = g }
func (b *Backend) clearGroup()       { b.group = nil }

// configuredTotalSpace is the space the backend claims by configuration,
// before clamping to the filesystem size; the FS oversubscription check
// sums these.
func (b *Backend) configuredTotalSpace() int64 {
	if b.stat.BlobSizeLimit != 0 {
		return int64(b.stat.BlobSizeLimit)
	}
	return b.calc.VfsTotalSpace
}

// Full reports whether the backend has no usable space left.
func (b *Backend) Full() bool {
	if b.calc.UsedSpace >= b.calc.EffectiveSpace {
		return true
	}
	return b.calc.EffectiveFreeSpace <= 0
}

// update folds a new observation into the backend, computing I/O rates and
// the read-only-FS error delta.
func (b *Backend) update(stat *BackendStat) {
	ts1 := float64(b.stat.Timestamp()) / 1000000.0
	ts2 := float64(stat.Timestamp()) / 1000000.0
	dTs := ts2 - ts1

	// Rates are calculated only when the interval is long enough to make the
	// result smooth. A forced update can deliver two observations within a
	// short interval.
	if dTs > 1.0 && stat.DstatError == 0 {
		b.calc.ReadRps = int(float64(stat.ReadIos-b.stat.ReadIos) / dTs)
		b.calc.WriteRps = int(float64(stat.WriteIos-b.stat.WriteIos) / dTs)

		la := math.Max(b.node.Stat().LoadAverage, 0.01)
		b.calc.MaxReadRps = int(math.Max(float64(b.calc.ReadRps)/la, 100.0))
		b.calc.MaxWriteRps = int(math.Max(float64(b.calc.WriteRps)/la, 100.0))
	}

	// Reset the accumulated EROFS error delta on node restart: last_start
	// advanced or the raw counter went backwards.
	if b.stat.lastStart() < stat.lastStart() || b.stat.StatCommitRofsErrors > stat.StatCommitRofsErrors {
		b.calc.StatCommitRofsErrorsDiff = 0
	} else {
		b.calc.StatCommitRofsErrorsDiff += stat.StatCommitRofsErrors - b.stat.StatCommitRofsErrors
	}

	b.calculateBasePath(stat)
	b.stat = *stat
}

func (b *Backend) calculateBasePath(stat *BackendStat) {
	if stat.DataPath != "" {
		b.calc.BasePath = stat.DataPath
	} else if stat.FilePath != "" {
		b.calc.BasePath = stat.FilePath
	}
}

func (b *Backend) recalculate(reservedSpace uint64) {
	b.calc.VfsTotalSpace = int64(b.stat.VfsBlocks * b.stat.VfsBsize)
	b.calc.VfsFreeSpace = int64(b.stat.VfsBavail * b.stat.VfsBsize)
	b.calc.VfsUsedSpace = b.calc.VfsTotalSpace - b.calc.VfsFreeSpace

	b.calc.Records = int64(b.stat.RecordsTotal) - int64(b.stat.RecordsRemoved)
	b.calc.Fragmentation = float64(b.stat.RecordsRemoved) / float64(max(b.stat.RecordsTotal, 1))

	if b.stat.BlobSizeLimit != 0 {
		// vfs_total_space can be less than blob_size_limit in case of
		// misconfiguration.
		b.calc.TotalSpace = min(int64(b.stat.BlobSizeLimit), b.calc.VfsTotalSpace)
		b.calc.UsedSpace = int64(b.stat.BaseSize)
		b.calc.FreeSpace = min(b.calc.VfsFreeSpace, max(int64(0), b.calc.TotalSpace-b.calc.UsedSpace))
	} else {
		b.calc.TotalSpace = b.calc.VfsTotalSpace
		b.calc.FreeSpace = b.calc.VfsFreeSpace
		b.calc.UsedSpace = b.calc.VfsUsedSpace
	}

	var share float64
	if b.calc.VfsTotalSpace != 0 {
		share = float64(b.calc.TotalSpace) / float64(b.calc.VfsTotalSpace)
	}
	freeSpaceReq := int64(math.Ceil(float64(reservedSpace) * share))
	b.calc.EffectiveSpace = max(int64(0), b.calc.TotalSpace-freeSpaceReq)
	b.calc.EffectiveFreeSpace = max(b.calc.FreeSpace-(b.calc.TotalSpace-b.calc.EffectiveSpace), 0)

	b.calc.CommandStat = CommandStat{
		CacheReadSize:  b.stat.EllCacheReadSize,
		CacheWriteSize: b.stat.EllCacheWriteSize,
		DiskReadSize:   b.stat.EllDiskReadSize,
		DiskWriteSize:  b.stat.EllDiskWriteSize,
		CacheReadTime:  b.stat.EllCacheReadTime,
		CacheWriteTime: b.stat.EllCacheWriteTime,
		DiskReadTime:   b.stat.EllDiskReadTime,
		DiskWriteTime:  b.stat.EllDiskWriteTime,
	}
}

func (b *Backend) checkStalled(nowSec, stallTimeoutSec uint64) {
	if nowSec <= b.stat.TsSec {
		b.calc.Stalled = false
		return
	}
	b.calc.Stalled = (nowSec - b.stat.TsSec) > stallTimeoutSec
}

func (b *Backend) updateStatus() {
	switch {
	case b.calc.Stalled || b.stat.State != BackendStateEnabled || b.fs == nil:
		b.calc.Status = BackendStalled
	case b.fs.Status() == FSBroken:
		b.calc.Status = BackendBroken
	case b.stat.ReadOnly || b.calc.StatCommitRofsErrorsDiff > 0:
		b.calc.Status = BackendRO
	default:
		b.calc.Status = BackendOK
	}
}

func (b *Backend) groupChanged() bool {
	if b.group == nil {
		return false
	}
	return uint64(b.group.ID()) != b.stat.Group
}

func (b *Backend) merge(other *Backend, haveNewer *bool) {
	myTs, otherTs := b.stat.Timestamp(), other.stat.Timestamp()
	if myTs < otherTs {
		b.stat = other.stat
		b.calc = other.calc
	} else if myTs > otherTs {
		*haveNewer = true
	}
}

func (b *Backend) writeJSON(s *jsoniter.Stream, showInternals bool) {
	s.WriteObjectStart()

	s.WriteObjectField("timestamp")
	writeTimestampJSON(s, b.stat.TsSec, b.stat.TsUsec, showInternals)
	s.WriteMore()

	s.WriteObjectField("node")
	s.WriteString(b.node.Key())
	s.WriteMore()
	s.WriteObjectField("backend_id")
	s.WriteUint64(b.stat.BackendID)
	s.WriteMore()
	s.WriteObjectField("addr")
	s.WriteString(b.key)
	s.WriteMore()
	s.WriteObjectField("state")
	s.WriteUint64(b.stat.State)
	s.WriteMore()
	s.WriteObjectField("vfs_blocks")
	s.WriteUint64(b.stat.VfsBlocks)
	s.WriteMore()
	s.WriteObjectField("vfs_bavail")
	s.WriteUint64(b.stat.VfsBavail)
	s.WriteMore()
	s.WriteObjectField("vfs_bsize")
	s.WriteUint64(b.stat.VfsBsize)
	s.WriteMore()
	s.WriteObjectField("records_total")
	s.WriteUint64(b.stat.RecordsTotal)
	s.WriteMore()
	s.WriteObjectField("records_removed")
	s.WriteUint64(b.stat.RecordsRemoved)
	s.WriteMore()
	s.WriteObjectField("records_removed_size")
	s.WriteUint64(b.stat.RecordsRemovedSize)
	s.WriteMore()
	s.WriteObjectField("base_size")
	s.WriteUint64(b.stat.BaseSize)
	s.WriteMore()
	s.WriteObjectField("fsid")
	s.WriteUint64(b.stat.Fsid)
	s.WriteMore()
	s.WriteObjectField("defrag_state")
	s.WriteUint64(b.stat.DefragState)
	s.WriteMore()
	s.WriteObjectField("want_defrag")
	s.WriteUint64(b.stat.WantDefrag)
	s.WriteMore()
	s.WriteObjectField("read_ios")
	s.WriteUint64(b.stat.ReadIos)
	s.WriteMore()
	s.WriteObjectField("write_ios")
	s.WriteUint64(b.stat.WriteIos)
	s.WriteMore()
	s.WriteObjectField("dstat_error")
	s.WriteUint64(b.stat.DstatError)
	s.WriteMore()
	s.WriteObjectField("blob_size_limit")
	s.WriteUint64(b.stat.BlobSizeLimit)
	s.WriteMore()
	s.WriteObjectField("max_blob_base_size")
	s.WriteUint64(b.stat.MaxBlobBaseSize)
	s.WriteMore()
	s.WriteObjectField("blob_size")
	s.WriteUint64(b.stat.BlobSize)
	s.WriteMore()
	s.WriteObjectField("group")
	s.WriteUint64(b.stat.Group)
	s.WriteMore()

	s.WriteObjectField("vfs_free_space")
	s.WriteInt64(b.calc.VfsFreeSpace)
	s.WriteMore()
	s.WriteObjectField("vfs_total_space")
	s.WriteInt64(b.calc.VfsTotalSpace)
	s.WriteMore()
	s.WriteObjectField("vfs_used_space")
	s.WriteInt64(b.calc.VfsUsedSpace)
	s.WriteMore()
	s.WriteObjectField("records")
	s.WriteInt64(b.calc.Records)
	s.WriteMore()
	s.WriteObjectField("free_space")
	s.WriteInt64(b.calc.FreeSpace)
	s.WriteMore()
	s.WriteObjectField("total_space")
	s.WriteInt64(b.calc.TotalSpace)
	s.WriteMore()
	s.WriteObjectField("used_space")
	s.WriteInt64(b.calc.UsedSpace)
	s.WriteMore()
	s.WriteObjectField("effective_space")
	s.WriteInt64(b.calc.EffectiveSpace)
	s.WriteMore()
	s.WriteObjectField("effective_free_space")
	s.WriteInt64(b.calc.EffectiveFreeSpace)
	s.WriteMore()
	s.WriteObjectField("fragmentation")
	s.WriteFloat64(b.calc.Fragmentation)
	s.WriteMore()
	s.WriteObjectField("read_rps")
	s.WriteInt(b.calc.ReadRps)
	s.WriteMore()
	s.WriteObjectField("write_rps")
	s.WriteInt(b.calc.WriteRps)
	s.WriteMore()
	s.WriteObjectField("max_read_rps")
	s.WriteInt(b.calc.MaxReadRps)
	s.WriteMore()
	s.WriteObjectField("max_write_rps")
	s.WriteInt(b.calc.MaxWriteRps)
	s.WriteMore()
	s.WriteObjectField("status")
	s.WriteString(b.calc.Status.String())
	s.WriteMore()

	s.WriteObjectField("last_start")
	s.WriteObjectStart()
	s.WriteObjectField("ts_sec")
	s.WriteUint64(b.stat.LastStartTsSec)
	s.WriteMore()
	s.WriteObjectField("ts_usec")
	s.WriteUint64(b.stat.LastStartTsUsec)
	s.WriteObjectEnd()
	s.WriteMore()

	s.WriteObjectField("read_only")
	s.WriteBool(b.stat.ReadOnly)
	s.WriteMore()
	s.WriteObjectField("stat_commit_rofs_errors_diff")
	s.WriteUint64(b.calc.StatCommitRofsErrorsDiff)

	if showInternals {
		s.WriteMore()
		s.WriteObjectField("stat_commit_rofs_errors")
		s.WriteUint64(b.stat.StatCommitRofsErrors)
		s.WriteMore()
		s.WriteObjectField("stalled")
		s.WriteBool(b.calc.Stalled)
		s.WriteMore()
		s.WriteObjectField("data_path")
		s.WriteString(b.stat.DataPath)
		s.WriteMore()
		s.WriteObjectField("file_path")
		s.WriteString(b.stat.FilePath)
	}

	s.WriteMore()
	s.WriteObjectField("base_path")
	s.WriteString(b.calc.BasePath)

	s.WriteObjectEnd()
}
