// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"strconv"
	"strings"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/stats"
)

// Storage is one coherent snapshot of cluster state. A Round works on its
// own clone; the collector owns the installed one. All cross-entity links
// live inside a single Storage and never outlive it.
type Storage struct {
	config *cmn.Config

	hosts      map[string]*Host
	nodes      map[string]*Node
	groups     map[int]*Group
	couples    map[string]*Couple
	namespaces map[string]*Namespace

	// one active job per group
	jobs map[int]*Job

	pendingJobs     []*Job
	pendingJobsTs   uint64
	havePendingJobs bool

	groupHistory   map[int]*GroupHistoryEntry
	groupHistoryTs uint64 // ns
}

func New(config *cmn.Config) *Storage {
	return &Storage{
		config:       config,
		hosts:        make(map[string]*Host),
		nodes:        make(map[string]*Node),
		groups:       make(map[int]*Group),
		couples:      make(map[string]*Couple),
		namespaces:   make(map[string]*Namespace),
		jobs:         make(map[int]*Job),
		groupHistory: make(map[int]*GroupHistoryEntry),
	}
}

func (s *Storage) Config() *cmn.Config { return s.config }

func (s *Storage) Hosts() map[string]*Host           { return s.hosts }
func (s *Storage) Nodes() map[string]*Node           { return s.nodes }
func (s *Storage) Groups() map[int]*Group            { return s.groups }
func (s *Storage) Couples() map[string]*Couple       { return s.couples }
func (s *Storage) Namespaces() map[string]*Namespace { return s.namespaces }
func (s *Storage) Jobs() map[int]*Job                { return s.jobs }

func (s *Storage) GroupHistoryTs() uint64 { return s.groupHistoryTs }

// GetHost returns the host for the address, creating it on first use.
func (s *Storage) GetHost(addr string) *Host {
	h, ok := s.hosts[addr]
	if !ok {
		h = NewHost(addr)
		s.hosts[addr] = h
	}
	return h
}

func (s *Storage) HasNode(addr string, port, family int) bool {
	_, ok := s.nodes[NodeKey(addr, port, family)]
	return ok
}

func (s *Storage) AddNode(host *Host, port, family int) *Node {
	n := newNode(s, host, port, family)
	s.nodes[n.Key()] = n
	return n
}

func (s *Storage) GetNode(key string) (*Node, bool) {
	n, ok := s.nodes[key]
	return n, ok
}

func (s *Storage) GetOrCreateGroup(id int) *Group {
	g, ok := s.groups[id]
	if !ok {
		g = newGroup(s, id)
		s.groups[id] = g
	}
	return g
}

// findBackendByKey resolves "addr:port:family/backend_id".
func (s *Storage) findBackendByKey(key string) *Backend {
	idx := strings.LastIndexByte(key, '/')
	if idx < 0 {
		return nil
	}
	node, ok := s.nodes[key[:idx]]
	if !ok {
		return nil
	}
	id, err := strconv.ParseUint(key[idx+1:], 10, 64)
	if err != nil {
		return nil
	}
	return node.backends[id]
}

// findBackendByHistory resolves a history record tuple; hosts are recorded
// by resolved name.
func (s *Storage) findBackendByHistory(hb HistoryBackend) *Backend {
	for _, h := range s.hosts {
		if h.Name() != hb.Hostname {
			continue
		}
		if node, ok := s.nodes[NodeKey(h.Addr(), hb.Port, hb.Family)]; ok {
			if b, ok := node.backends[hb.BackendID]; ok {
				return b
			}
		}
	}
	return nil
}

// SaveNewJobs stores the jobs fetched from the metadata database until the
// ProcessNewJobs pass.
func (s *Storage) SaveNewJobs(jobs []*Job, ts uint64) {
	s.pendingJobs = jobs
	s.pendingJobsTs = ts
	s.havePendingJobs = true
}

// SaveGroupHistory folds freshly fetched history entries in, keeping the
// most recent entry per group, and advances the history timestamp.
func (s *Storage) SaveGroupHistory(entries []*GroupHistoryEntry, startTs uint64) {
	for _, entry := range entries {
		prev, ok := s.groupHistory[entry.GroupID]
		if !ok || prev.Timestamp < entry.Timestamp {
			s.groupHistory[entry.GroupID] = entry
		}
	}
	if s.groupHistoryTs < startTs {
		s.groupHistoryTs = startTs
	}
}

// ProcessNodeBackends establishes group membership after all stats arrived:
// new backends are attached to the group they report, re-homed when the
// reported group id changed, and group history rewrites membership when a
// newer entry exists.
func (s *Storage) ProcessNodeBackends() {
	for _, node := range s.nodes {
		for _, b := range node.backends {
			if !b.groupChanged() {
				continue
			}
			oldGroup := b.Group()
			log().Infow("backend changed group", "backend", b.Key(),
				"old_group", oldGroup.ID(), "new_group", b.Stat().Group)
			oldGroup.removeBackend(b)
			s.attachBackend(b)
		}

		for _, b := range node.takeNewBackends() {
			s.attachBackend(b)
		}
	}
}

func (s *Storage) attachBackend(b *Backend) {
	group := s.GetOrCreateGroup(int(b.Stat().Group))
	group.addBackend(b)

	if entry, ok := s.groupHistory[group.ID()]; ok {
		if entry.Timestamp > float64(b.Stat().TsSec) {
			group.applyHistoryEntry(entry)
		}
	}
}

// ProcessNewJobs links freshly fetched jobs to their groups. A fetch that
// did not happen (database unconfigured or down) keeps the previous links.
func (s *Storage) ProcessNewJobs() {
	if !s.havePendingJobs {
		return
	}

	jobs := make(map[int]*Job, len(s.pendingJobs))
	for _, job := range s.pendingJobs {
		jobs[job.Group] = job
	}
	s.jobs = jobs
	s.pendingJobs = nil
	s.havePendingJobs = false

	for id, g := range s.groups {
		if job, ok := s.jobs[id]; ok {
			g.setActiveJob(job)
		} else {
			g.clearActiveJob()
		}
	}
}

// Update is the derive-and-status pass: stall flags, statuses, metadata
// parsing, couples and namespaces. Backend space and rates are derived
// earlier, when stats are applied (Node.ApplyStats).
func (s *Storage) Update() {
	nowSec := stats.WallNano() / 1000000000

	for _, node := range s.nodes {
		node.updateBackendStatus(nowSec, s.config.StallTimeout)
		node.updateFilesystems()
	}

	for _, g := range s.groups {
		if g.metadataPending() {
			if err := g.parseMetadata(); err != nil {
				log().Errorw("failed to parse group metadata", "group", g.ID(), "err", err)
			}
		}
	}

	for _, g := range s.groups {
		g.updateStatus(s.config.ForbiddenDhtGroups != 0)
	}

	s.buildCouples()

	for _, c := range s.couples {
		c.updateStatus(s.config.ForbiddenDcSharing != 0, s.config.ForbiddenUnmatchedTotal != 0)
	}

	s.updateNamespaces()
}

func (s *Storage) buildCouples() {
	for _, g := range s.groups {
		if !g.MetadataParsed() || len(g.Metadata().Couple) == 0 {
			continue
		}
		key := CoupleKey(g.Metadata().Couple)
		c, ok := s.couples[key]
		if !ok {
			members := make([]*Group, len(g.Metadata().Couple))
			for i, id := range g.Metadata().Couple {
				members[i] = s.GetOrCreateGroup(id)
			}
			c = newCouple(members)
			s.couples[key] = c
		}
		for _, member := range c.Groups() {
			if member.Couple() == nil {
				member.setCouple(c)
			}
		}
	}
}

func (s *Storage) updateNamespaces() {
	for _, ns := range s.namespaces {
		ns.couples = make(map[string]*Couple)
	}
	for _, c := range s.couples {
		name := c.namespaceName()
		if name == "" {
			continue
		}
		ns, ok := s.namespaces[name]
		if !ok {
			ns = newNamespace(name)
			s.namespaces[name] = ns
		}
		ns.addCouple(c)
	}
}

// Merge folds the other snapshot into this one, entity by entity, choosing
// the side with the newer timestamps. haveNewer is set when this snapshot
// carries state the other does not.
func (s *Storage) Merge(other *Storage, haveNewer *bool) {
	for addr, otherHost := range other.hosts {
		s.GetHost(addr).merge(otherHost, haveNewer)
	}

	for key, otherNode := range other.nodes {
		mine, ok := s.nodes[key]
		if !ok {
			mine = s.AddNode(s.GetHost(otherNode.Host().Addr()), otherNode.Port(), otherNode.Family())
		}
		mine.merge(otherNode, haveNewer)
	}
	if len(s.nodes) > len(other.nodes) {
		*haveNewer = true
	}

	for id, otherGroup := range other.groups {
		s.GetOrCreateGroup(id).merge(otherGroup, haveNewer)
	}
	if len(s.groups) > len(other.groups) {
		*haveNewer = true
	}

	for key, otherCouple := range other.couples {
		mine, ok := s.couples[key]
		if !ok {
			members := make([]*Group, len(otherCouple.Groups()))
			for i, g := range otherCouple.Groups() {
				members[i] = s.GetOrCreateGroup(g.ID())
			}
			mine = newCouple(members)
			s.couples[key] = mine
			for _, member := range members {
				if member.Couple() == nil {
					member.setCouple(mine)
				}
			}
		}
		mine.merge(otherCouple, haveNewer)
	}
	if len(s.couples) > len(other.couples) {
		*haveNewer = true
	}

	for group, otherJob := range other.jobs {
		mine, ok := s.jobs[group]
		if !ok || mine.UpdateTime < otherJob.UpdateTime {
			s.jobs[group] = otherJob
			if g, ok := s.groups[group]; ok {
				g.setActiveJob(otherJob)
			}
		} else if mine.UpdateTime > otherJob.UpdateTime {
			*haveNewer = true
		}
	}
	if len(s.jobs) > len(other.jobs) {
		*haveNewer = true
	}

	s.SaveGroupHistory(mapValues(other.groupHistory), other.groupHistoryTs)
	if s.groupHistoryTs > other.groupHistoryTs {
		*haveNewer = true
	}

	s.updateNamespaces()
}

func mapValues(m map[int]*GroupHistoryEntry) []*GroupHistoryEntry {
	out := make([]*GroupHistoryEntry, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Clone deep-copies the snapshot; cross-entity links are re-resolved inside
// the new storage.
func (s *Storage) Clone() *Storage {
	clone := New(s.config)

	for addr, h := range s.hosts {
		nh := NewHost(addr)
		nh.cloneFrom(h)
		clone.hosts[addr] = nh
	}

	for _, node := range s.nodes {
		nn := clone.AddNode(clone.GetHost(node.Host().Addr()), node.Port(), node.Family())
		nn.stat = node.stat
		nn.clock = node.clock
		nn.commandStat = node.commandStat

		for fsid, fs := range node.filesystems {
			nfs := newFS(nn, fsid)
			nfs.cloneFrom(fs)
			nn.filesystems[fsid] = nfs
		}
		for id, b := range node.backends {
			nb := newBackend(nn)
			nb.cloneFrom(b)
			nn.backends[id] = nb
			fs := nn.getFS(nb.stat.Fsid)
			nb.setFS(fs)
			fs.addBackend(nb)
		}
	}

	for id, g := range s.groups {
		ng := newGroup(clone, id)
		ng.cloneFrom(g)
		clone.groups[id] = ng
		for key := range g.backends {
			if b := clone.findBackendByKey(key); b != nil {
				ng.addBackend(b)
			}
		}
	}

	for group, job := range s.jobs {
		jobCopy := *job
		clone.jobs[group] = &jobCopy
		if g, ok := clone.groups[group]; ok {
			g.setActiveJob(&jobCopy)
		}
	}

	for key, c := range s.couples {
		members := make([]*Group, len(c.groups))
		for i, g := range c.groups {
			members[i] = clone.GetOrCreateGroup(g.ID())
		}
		nc := newCouple(members)
		nc.status = c.status
		nc.statusText = c.statusText
		nc.internalStatus = c.internalStatus
		nc.modifiedTime = c.modifiedTime
		nc.updateStatusDuration = c.updateStatusDuration
		clone.couples[key] = nc
		for _, member := range members {
			if member.Couple() == nil {
				member.setCouple(nc)
			}
		}
	}

	for id, entry := range s.groupHistory {
		clone.groupHistory[id] = entry
	}
	clone.groupHistoryTs = s.groupHistoryTs

	clone.updateNamespaces()

	return clone
}
