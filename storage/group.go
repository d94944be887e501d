// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"bytes"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

type GroupStatus int

const (
	GroupInit GroupStatus = iota
	GroupCoupled
	GroupBad
	GroupBroken
	GroupRO
	GroupMigrating
)

func (s GroupStatus) String() string {
	switch s {
	case GroupInit:
		return "INIT"
	case GroupCoupled:
		return "COUPLED"
	case GroupBad:
		return "BAD"
	case GroupBroken:
		return "BROKEN"
	case GroupRO:
		return "RO"
	case GroupMigrating:
		return "MIGRATING"
	}
	return "UNKNOWN"
}

type GroupType int

const (
	GroupData GroupType = iota
	GroupCache
	GroupUnmarked
)

func (t GroupType) String() string {
	switch t {
	case GroupData:
		return "DATA"
	case GroupCache:
		return "CACHE"
	case GroupUnmarked:
		return "UNMARKED"
	}
	return "UNKNOWN"
}

// GroupMetadata is the parsed "symmetric_groups" record.
type GroupMetadata struct {
	Version   int
	Frozen    bool
	Couple    []int
	Namespace string
	Type      string

	ServiceMigrating bool
	ServiceJobID     string
}

// Group owns the set of backends reporting its id plus the last metadata
// record read from the storage.
type Group struct {
	storage *Storage
	id      int

	backends map[string]*Backend

	metadataFile   []byte
	metadataParsed bool
	parseError     string

	metadataParseDuration uint64
	updateTime            uint64 // ns, timestamp of the metadata record

	metadata GroupMetadata

	couple    *Couple
	activeJob *Job

	typ        GroupType
	status     GroupStatus
	statusText string

	// diagnostic only; see DESIGN.md on NotInCouple
	internalStatus string
}

func newGroup(storage *Storage, id int) *Group {
	return &Group{
		storage:  storage,
		id:       id,
		backends: make(map[string]*Backend),
		typ:      GroupData,
		status:   GroupInit,
	}
}

func (g *Group) ID() int                    { return g.id }
func (g *Group) Status() GroupStatus        { return g.status }
func (g *Group) StatusText() string         { return g.statusText }
func (g *Group) Type() GroupType            { return g.typ }
func (g *Group) Couple() *Couple            { return g.couple }
func (g *Group) Metadata() *GroupMetadata   { return &g.metadata }
func (g *Group) MetadataParsed() bool       { return g.metadataParsed }
func (g *Group) UpdateTime() uint64         { return g.updateTime }
func (g *Group) ActiveJob() *Job            { return g.activeJob }

func (g *Group) Backends() map[string]*Backend { return g.backends }
func (g *Group) MetadataParseDuration() uint64 { return g.metadataParseDuration }

func (g *Group) setCouple(c *Couple) { g.couple = c }
func (g *Group) setActiveJob(j *Job) { g.activeJob = j }
func (g *Group) clearActiveJob()     { g.activeJob = nil }

func (g *Group) addBackend(b *Backend) {
	g.backends[b.Key()] = b
	b.setGroup(g)
}

func (g *Group) removeBackend(b *Backend) {
	delete(g.backends, b.Key())
	if b.Group() == g {
		b.clearGroup()
	}
}

func (g *Group) sortedBackendKeys() []string {
	keys := make([]string, 0, len(g.backends))
	for key := range g.backends {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SaveMetadata stores a downloaded metadata record; it is parsed lazily by
// the update pass. The record timestamp is in nanoseconds.
func (g *Group) SaveMetadata(data []byte, ts uint64) {
	if bytes.Equal(g.metadataFile, data) {
		g.updateTime = ts
		return
	}
	g.metadataFile = append(g.metadataFile[:0], data...)
	g.metadataParsed = false
	g.parseError = ""
	g.updateTime = ts
}

// HandleMetadataDownloadFailed records a failed metadata read; the group is
// statused INIT or BAD by the update pass.
func (g *Group) HandleMetadataDownloadFailed(message string) {
	g.metadataParsed = false
	g.parseError = message
}

func (g *Group) metadataPending() bool {
	return !g.metadataParsed && len(g.metadataFile) != 0 && g.parseError == ""
}

// parseMetadata decodes the msgpack metadata record. Version 1 is a plain
// array of couple group ids; version 2 is a map.
func (g *Group) parseMetadata() error {
	defer newStopwatch(&g.metadataParseDuration).Stop()

	var raw any
	if err := msgpack.Unmarshal(g.metadataFile, &raw); err != nil {
		g.parseError = err.Error()
		return errors.Wrapf(err, "group %d: decode metadata", g.id)
	}

	md := GroupMetadata{}

	switch v := raw.(type) {
	case []any:
		md.Version = 1
		md.Namespace = "default"
		couple, err := intSlice(v)
		if err != nil {
			g.parseError = err.Error()
			return errors.Wrapf(err, "group %d: metadata v1 couple", g.id)
		}
		md.Couple = couple
	case map[string]any:
		if err := parseMetadataMap(v, &md); err != nil {
			g.parseError = err.Error()
			return errors.Wrapf(err, "group %d: metadata v2", g.id)
		}
	default:
		g.parseError = fmt.Sprintf("unexpected metadata document of type %T", raw)
		return errors.Errorf("group %d: %s", g.id, g.parseError)
	}

	g.metadata = md
	g.metadataParsed = true
	g.parseError = ""
	return nil
}

func parseMetadataMap(m map[string]any, md *GroupMetadata) error {
	if v, ok := m["version"]; ok {
		n, err := toInt(v)
		if err != nil {
			return errors.Wrap(err, "version")
		}
		md.Version = n
	}
	if v, ok := m["frozen"]; ok {
		b, ok := v.(bool)
		if !ok {
			return errors.Errorf("frozen: unexpected type %T", v)
		}
		md.Frozen = b
	}
	if v, ok := m["couple"]; ok {
		arr, ok := v.([]any)
		if !ok {
			return errors.Errorf("couple: unexpected type %T", v)
		}
		couple, err := intSlice(arr)
		if err != nil {
			return errors.Wrap(err, "couple")
		}
		md.Couple = couple
	}
	if v, ok := m["namespace"]; ok {
		str, ok := v.(string)
		if !ok {
			return errors.Errorf("namespace: unexpected type %T", v)
		}
		md.Namespace = str
	}
	if v, ok := m["type"]; ok {
		str, ok := v.(string)
		if !ok {
			return errors.Errorf("type: unexpected type %T", v)
		}
		md.Type = str
	}
	if v, ok := m["service"]; ok {
		svc, ok := v.(map[string]any)
		if !ok {
			return errors.Errorf("service: unexpected type %T", v)
		}
		if st, ok := svc["status"].(string); ok && st == "MIGRATING" {
			md.ServiceMigrating = true
		}
		if id, ok := svc["job_id"].(string); ok {
			md.ServiceJobID = id
		}
	}
	return nil
}

func intSlice(arr []any) ([]int, error) {
	out := make([]int, 0, len(arr))
	for _, el := range arr {
		n, err := toInt(el)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint:
		return int(n), nil
	}
	return 0, errors.Errorf("unexpected integer type %T", v)
}

func (g *Group) calculateType() {
	if g.metadata.Type == "cache" {
		g.typ = GroupCache
	} else {
		g.typ = GroupData
	}
}

// hostCount returns the number of distinct hosts the group's backends live on.
func (g *Group) hostCount() int {
	hosts := make(map[string]struct{}, len(g.backends))
	for _, b := range g.backends {
		hosts[b.Node().Host().Addr()] = struct{}{}
	}
	return len(hosts)
}

func (g *Group) haveMetadataConflict(other *Group) bool {
	// a group whose metadata is not parsed yet makes the couple INIT, not BAD
	if !g.metadataParsed || !other.metadataParsed {
		return false
	}
	if g.metadata.Namespace != other.metadata.Namespace {
		return true
	}
	if g.metadata.Frozen != other.metadata.Frozen {
		return true
	}
	if g.metadata.Type != other.metadata.Type {
		return true
	}
	if len(g.metadata.Couple) != len(other.metadata.Couple) {
		return true
	}
	for i, id := range g.metadata.Couple {
		if other.metadata.Couple[i] != id {
			return true
		}
	}
	return false
}

// TotalSpace is the sum over the group's backends.
func (g *Group) TotalSpace() int64 {
	var total int64
	for _, b := range g.backends {
		total += b.TotalSpace()
	}
	return total
}

// Full reports whether any backend of the group ran out of usable space.
func (g *Group) Full() bool {
	for _, b := range g.backends {
		if b.Full() {
			return true
		}
	}
	return false
}

func (g *Group) frozen() bool { return g.metadataParsed && g.metadata.Frozen }

// hasActiveServiceJob reports whether the group is legitimately migrating:
// the metadata names a job that is present and of a service type.
func (g *Group) hasActiveServiceJob() bool {
	if !g.metadata.ServiceMigrating || g.metadata.ServiceJobID == "" {
		return false
	}
	if g.activeJob == nil || g.activeJob.ID != g.metadata.ServiceJobID {
		return false
	}
	return g.activeJob.Type == JobMove || g.activeJob.Type == JobRestoreGroup
}

func (g *Group) updateStatus(forbiddenDhtGroups bool) {
	g.calculateType()
	g.internalStatus = ""

	if g.metadataParsed && len(g.metadata.Couple) != 0 && !containsInt(g.metadata.Couple, g.id) {
		// The group's own id is missing from its metadata couple list. The
		// condition is surfaced for diagnostics; the visible status is
		// derived from the checks below.
		g.internalStatus = "NotInCouple"
		log().Warnw("group id not in metadata couple list", "group", g.id, "couple", g.metadata.Couple)
	}

	switch {
	case len(g.backends) == 0:
		g.setStatus(GroupInit, fmt.Sprintf("Group %d is in state INIT because there are no backends serving this group.", g.id))

	case forbiddenDhtGroups && g.hostCount() > 1:
		g.setStatus(GroupBroken, fmt.Sprintf("Group %d is in state BROKEN because DHT groups are forbidden and the group has backends on %d hosts.", g.id, g.hostCount()))

	case g.anyBackend(BackendBroken):
		g.setStatus(GroupBroken, fmt.Sprintf("Group %d is in state BROKEN because some of its backends are in state BROKEN.", g.id))

	case !g.metadataParsed || len(g.metadata.Couple) == 0:
		g.setStatus(GroupInit, fmt.Sprintf("Group %d is in state INIT because metadata is not parsed.", g.id))

	case g.metadata.Namespace == "":
		g.setStatus(GroupBad, fmt.Sprintf("Group %d is in state BAD because it has empty namespace.", g.id))

	case g.anyBackend(BackendStalled):
		g.setStatus(GroupBad, fmt.Sprintf("Group %d is in state BAD because some of its backends are in state STALLED.", g.id))

	case g.anyBackend(BackendRO):
		if g.hasActiveServiceJob() {
			g.setStatus(GroupMigrating, fmt.Sprintf("Group %d is migrating, job id is %q.", g.id, g.metadata.ServiceJobID))
		} else {
			g.setStatus(GroupBad, fmt.Sprintf("Group %d is in state BAD because some of its backends are read-only.", g.id))
		}

	default:
		g.setStatus(GroupCoupled, fmt.Sprintf("Group %d is OK.", g.id))
	}
}

func (g *Group) setStatus(status GroupStatus, text string) {
	g.status = status
	g.statusText = text
}

func (g *Group) anyBackend(status BackendStatus) bool {
	for _, b := range g.backends {
		if b.Status() == status {
			return true
		}
	}
	return false
}

func containsInt(s []int, v int) bool {
	for _, el := range s {
		if el == v {
			return true
		}
	}
	return false
}

// applyHistoryEntry rewrites the group's backend set to the historical one.
// Only backends already known to the storage are attached; missing ones are
// left for future observation.
func (g *Group) applyHistoryEntry(entry *GroupHistoryEntry) {
	wanted := make(map[string]*Backend, len(entry.Backends))
	for hb := range entry.Backends {
		b := g.storage.findBackendByHistory(hb)
		if b != nil {
			wanted[b.Key()] = b
		}
	}

	for key, b := range g.backends {
		if _, ok := wanted[key]; !ok {
			g.removeBackend(b)
		}
	}
	for _, b := range wanted {
		if b.Group() != g {
			if old := b.Group(); old != nil {
				old.removeBackend(b)
			}
			g.addBackend(b)
		}
	}
}

func (g *Group) merge(other *Group, haveNewer *bool) {
	if g.updateTime > other.updateTime {
		*haveNewer = true
		return
	}
	if g.updateTime < other.updateTime {
		g.metadataFile = append(g.metadataFile[:0], other.metadataFile...)
		g.metadataParsed = other.metadataParsed
		g.parseError = other.parseError
		g.metadata = other.metadata
		g.updateTime = other.updateTime
		g.typ = other.typ
		g.status = other.status
		g.statusText = other.statusText
		g.metadataParseDuration = other.metadataParseDuration
	}
}

func (g *Group) cloneFrom(other *Group) {
	g.id = other.id
	g.metadataFile = append([]byte(nil), other.metadataFile...)
	g.metadataParsed = other.metadataParsed
	g.parseError = other.parseError
	g.metadata = other.metadata
	g.metadataParseDuration = other.metadataParseDuration
	g.updateTime = other.updateTime
	g.typ = other.typ
	g.status = other.status
	g.statusText = other.statusText
	g.internalStatus = other.internalStatus
}

func (g *Group) writeJSON(s *jsoniter.Stream, showInternals bool) {
	s.WriteObjectStart()

	s.WriteObjectField("id")
	s.WriteInt(g.id)
	s.WriteMore()

	s.WriteObjectField("backends")
	s.WriteArrayStart()
	for i, key := range g.sortedBackendKeys() {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteString(key)
	}
	s.WriteArrayEnd()
	s.WriteMore()

	s.WriteObjectField("type")
	s.WriteString(g.typ.String())
	s.WriteMore()
	s.WriteObjectField("status")
	s.WriteString(g.status.String())
	s.WriteMore()
	s.WriteObjectField("status_text")
	s.WriteString(g.statusText)
	s.WriteMore()

	s.WriteObjectField("frozen")
	s.WriteBool(g.frozen())
	s.WriteMore()
	s.WriteObjectField("namespace")
	s.WriteString(g.metadata.Namespace)
	s.WriteMore()

	s.WriteObjectField("couple")
	s.WriteArrayStart()
	for i, id := range g.metadata.Couple {
		if i > 0 {
			s.WriteMore()
		}
		s.WriteInt(id)
	}
	s.WriteArrayEnd()

	if g.activeJob != nil {
		s.WriteMore()
		s.WriteObjectField("active_job")
		g.activeJob.writeJSON(s)
	}

	if showInternals {
		s.WriteMore()
		s.WriteObjectField("metadata_parsed")
		s.WriteBool(g.metadataParsed)
		s.WriteMore()
		s.WriteObjectField("metadata_parse_duration")
		s.WriteUint64(g.metadataParseDuration)
		s.WriteMore()
		s.WriteObjectField("update_time")
		s.WriteUint64(g.updateTime)
		if g.internalStatus != "" {
			s.WriteMore()
			s.WriteObjectField("internal_status")
			s.WriteString(g.internalStatus)
		}
		if g.parseError != "" {
			s.WriteMore()
			s.WriteObjectField("metadata_parse_error")
			s.WriteString(g.parseError)
		}
	}

	s.WriteObjectEnd()
}
