// Package round implements one end-to-end collection cycle
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package round

import (
	"context"

	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/monitor"
	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/storage"
)

type Type int

const (
	Regular Type = iota
	ForcedFull
	ForcedPartial
)

func (t Type) String() string {
	switch t {
	case Regular:
		return "regular"
	case ForcedFull:
		return "forced full"
	case ForcedPartial:
		return "forced partial"
	}
	return "unknown"
}

// ClockStat records per-stage durations of one round, in nanoseconds.
type ClockStat struct {
	Total                     uint64
	MetaDB                    uint64
	PerformDownload           uint64
	FinishMonitorStatsAndJobs uint64
	MetadataDownload          uint64
	StorageUpdate             uint64
	MergeTime                 uint64
}

// MetaDB is the jobs-and-history source; nil when no metadata database is
// configured.
type MetaDB interface {
	FetchJobs(ctx context.Context) ([]*storage.Job, uint64, error)
	FetchGroupHistory(ctx context.Context, sinceSec float64) ([]*storage.GroupHistoryEntry, error)
}

// Deps are the external collaborators of a round.
type Deps struct {
	Config      *cmn.Config
	MetaDB      MetaDB
	Downloader  Downloader
	MetaSession MetaSession
}

// Round owns a mutable clone of the current snapshot and the version it was
// cloned from. It runs the pipeline and hands the result to the collector
// for the CAS install.
type Round struct {
	deps Deps

	id  string
	typ Type

	oldVersion uint64
	snapshot   *storage.Storage
	filter     *storage.Filter

	// scope of a forced-partial round
	entries *storage.Selection

	clock ClockStat
}

func New(deps Deps, typ Type, snapshot *storage.Storage, oldVersion uint64, filter *storage.Filter) *Round {
	id, _ := shortid.Generate()
	r := &Round{
		deps:       deps,
		id:         id,
		typ:        typ,
		oldVersion: oldVersion,
		snapshot:   snapshot,
		filter:     filter,
	}
	stats.ClockStart(&r.clock.Total)
	return r
}

func (r *Round) ID() string                  { return r.id }
func (r *Round) Type() Type                  { return r.typ }
func (r *Round) OldVersion() uint64          { return r.oldVersion }
func (r *Round) Snapshot() *storage.Storage  { return r.snapshot }
func (r *Round) Clock() *ClockStat           { return &r.clock }

// StopTotal finalizes the total stopwatch; called by the collector at
// install time.
func (r *Round) StopTotal() { stats.ClockStop(&r.clock.Total) }

// TotalMs returns the total round duration in milliseconds; valid after
// StopTotal.
func (r *Round) TotalMs() uint64 { return r.clock.Total / 1000000 }

// UpdateStorage merges the installed snapshot into the round's one for a
// CAS retry. haveNewer reports whether the round still carries fresher data.
func (r *Round) UpdateStorage(installed *storage.Storage, version uint64, haveNewer *bool) {
	defer stats.NewStopwatch(&r.clock.MergeTime).Stop()

	r.oldVersion = version
	r.snapshot.Merge(installed, haveNewer)
}

// Perform runs the pipeline: the jobs/history and stats legs in parallel,
// the membership barrier, the metadata fan-out, and the update pass.
func (r *Round) Perform(ctx context.Context) error {
	if r.typ == ForcedPartial {
		scope := *r.filter
		scope.ItemTypes = storage.ItemNode | storage.ItemGroup
		r.entries = r.snapshot.Select(&scope)
	}

	cmn.Log().Infof("starting %s round %s with %d nodes", r.typ, r.id, len(r.selectedNodes()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.fetchJobsAndHistory(gctx) })
	g.Go(func() error { return r.downloadStats(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	finish := stats.NewStopwatch(&r.clock.FinishMonitorStatsAndJobs)
	r.snapshot.ProcessNodeBackends()
	r.snapshot.ProcessNewJobs()
	finish.Stop()

	if err := r.downloadMetadata(ctx); err != nil {
		return err
	}

	update := stats.NewStopwatch(&r.clock.StorageUpdate)
	r.snapshot.Update()
	update.Stop()

	return nil
}

func (r *Round) selectedNodes() []*storage.Node {
	if r.typ == ForcedPartial {
		return r.entries.Nodes
	}
	nodes := make([]*storage.Node, 0, len(r.snapshot.Nodes()))
	for _, n := range r.snapshot.Nodes() {
		nodes = append(nodes, n)
	}
	return nodes
}

func (r *Round) selectedGroups() []*storage.Group {
	if r.typ == ForcedPartial {
		return r.entries.Groups
	}
	groups := make([]*storage.Group, 0, len(r.snapshot.Groups()))
	for _, g := range r.snapshot.Groups() {
		groups = append(groups, g)
	}
	return groups
}

// fetchJobsAndHistory is the metadata-database leg.
func (r *Round) fetchJobsAndHistory(ctx context.Context) error {
	defer stats.NewStopwatch(&r.clock.MetaDB).Stop()

	// The approximate point in time statistics collection started; used to
	// filter history entries.
	startTs := stats.WallNano()

	if r.deps.MetaDB == nil {
		cmn.Log().Warn("not connecting to jobs database because it was not configured")
		return nil
	}

	jobs, fetchTs, err := r.deps.MetaDB.FetchJobs(ctx)
	if err != nil {
		return err
	}
	r.snapshot.SaveNewJobs(jobs, fetchTs)

	var previousSec float64
	if ts := r.snapshot.GroupHistoryTs(); ts > 0 {
		previousSec = float64(ts) / 1e9
	} else {
		previousSec = float64(startTs) / 1e9
	}

	entries, err := r.deps.MetaDB.FetchGroupHistory(ctx, previousSec)
	if err != nil {
		return err
	}
	r.snapshot.SaveGroupHistory(entries, startTs)

	return nil
}

// downloadStats is the HTTP fan-out leg. Failed downloads and parse
// failures skip the node for the round.
func (r *Round) downloadStats(ctx context.Context) error {
	defer stats.NewStopwatch(&r.clock.PerformDownload).Stop()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for _, node := range r.selectedNodes() {
		node := node
		g.Go(func() error {
			data, err := r.deps.Downloader.FetchStats(node.Host().Addr())
			if err != nil {
				cmn.Log().Errorw("node stats download failed", "node", node.Key(), "err", err)
				return nil
			}
			cmn.Log().Infow("node stat download completed", "node", node.Key())

			var parseDuration uint64
			watch := stats.NewStopwatch(&parseDuration)
			parsed, err := monitor.Parse(data)
			watch.Stop()
			node.SetStatsParseDuration(parseDuration)

			if err != nil {
				cmn.Log().Errorw("error parsing stats", "node", node.Key(), "err", err)
				return nil
			}
			node.ApplyStats(parsed)
			return nil
		})
	}

	return g.Wait()
}

// downloadMetadata is the per-group metadata read fan-out.
func (r *Round) downloadMetadata(ctx context.Context) error {
	defer stats.NewStopwatch(&r.clock.MetadataDownload).Stop()

	groups := r.selectedGroups()
	if len(groups) == 0 {
		cmn.Log().Info("no groups to download metadata")
		return nil
	}
	cmn.Log().Infof("scheduling metadata download for %d groups", len(groups))

	addrs := make([]string, 0, len(r.snapshot.Nodes()))
	seen := make(map[string]struct{})
	for _, n := range r.snapshot.Nodes() {
		addr := n.Host().Addr()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	for _, group := range groups {
		group := group
		g.Go(func() error {
			data, ts, err := r.deps.MetaSession.ReadGroupMetadata(addrs, group.ID())
			if err != nil {
				cmn.Log().Errorw("metadata download failed", "group", group.ID(), "err", err)
				group.HandleMetadataDownloadFailed(err.Error())
				return nil
			}
			group.SaveMetadata(data, ts)
			return nil
		})
	}

	return g.Wait()
}
