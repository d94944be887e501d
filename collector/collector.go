// Package collector owns the installed snapshot and schedules rounds
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/discovery"
	"github.com/mastermind/collector/round"
	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/storage"
)

// RoundPeriod is the interval between regular rounds.
const RoundPeriod = 60 * time.Second

const opsChanCap = 64

// Collector owns the (snapshot, version) cell. Every read and write of the
// cell happens on the sequenced executor, so readers observe both fields
// atomically.
type Collector struct {
	config    *cmn.Config
	discovery *discovery.Discovery
	deps      round.Deps
	metrics   *stats.RoundMetrics

	ops    chan func()
	stopCh chan struct{}

	// owned by the executor goroutine
	snapshot   *storage.Storage
	version    uint64
	roundClock round.ClockStat
}

func New(config *cmn.Config, disc *discovery.Discovery, deps round.Deps, metrics *stats.RoundMetrics) *Collector {
	return &Collector{
		config:    config,
		discovery: disc,
		deps:      deps,
		metrics:   metrics,
		ops:       make(chan func(), opsChanCap),
		stopCh:    make(chan struct{}),
		snapshot:  storage.New(config),
		version:   1,
	}
}

// Run drives the sequenced executor until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.stopCh)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.ops:
			op()
		}
	}
}

func (c *Collector) enqueue(op func()) bool {
	select {
	case c.ops <- op:
		return true
	case <-c.stopCh:
		return false
	}
}

// Start kicks off the initial inventory bulk fetch and the first round.
func (c *Collector) Start(ctx context.Context) {
	c.enqueue(func() {
		cmn.Log().Info("collector: starting inventory initial download")
		if err := c.discovery.Inventory().DownloadInitial(ctx); err != nil {
			cmn.Log().Errorw("inventory initial download failed", "err", err)
		}
		c.startRound(ctx, round.Regular, nil, nil)
	})
}

// ForceUpdate runs a full round now and reports the outcome.
func (c *Collector) ForceUpdate(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	if !c.enqueue(func() { c.startRound(ctx, round.ForcedFull, nil, reply) }) {
		return "", errors.New("collector is stopped")
	}
	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Refresh runs a partial round scoped by the filter.
func (c *Collector) Refresh(ctx context.Context, f *storage.Filter) (string, error) {
	reply := make(chan string, 1)
	if !c.enqueue(func() { c.startRound(ctx, round.ForcedPartial, f, reply) }) {
		return "", errors.New("collector is stopped")
	}
	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetSnapshot serves the current snapshot immediately, without a round.
func (c *Collector) GetSnapshot(ctx context.Context, f *storage.Filter) (string, error) {
	reply := make(chan string, 1)
	if !c.enqueue(func() { reply <- c.snapshot.PrintJSON(f) }) {
		return "", errors.New("collector is stopped")
	}
	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Summary returns the text report of entity counts and round latencies.
func (c *Collector) Summary(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	if !c.enqueue(func() { reply <- c.summary() }) {
		return "", errors.New("collector is stopped")
	}
	select {
	case result := <-reply:
		return result, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// startRound runs on the executor: it clones the snapshot, resolves nodes
// for full rounds, and launches the pipeline off-executor.
func (c *Collector) startRound(ctx context.Context, typ round.Type, f *storage.Filter, reply chan string) {
	r := round.New(c.deps, typ, c.snapshot.Clone(), c.version, f)

	if typ != round.ForcedPartial {
		if err := c.discovery.ResolveNodes(ctx, r.Snapshot()); err != nil {
			cmn.Log().Errorw("failed to resolve nodes", "round", r.ID(), "err", err)
			c.abortRound(r, reply, err)
			return
		}
	}

	go func() {
		if err := r.Perform(ctx); err != nil {
			cmn.Log().Errorw("round aborted", "round", r.ID(), "err", err)
			c.enqueue(func() { c.abortRound(r, reply, err) })
			return
		}
		c.enqueue(func() { c.compareAndSwap(r, reply) })
	}()
}

func (c *Collector) abortRound(r *round.Round, reply chan string, err error) {
	if reply != nil {
		reply <- fmt.Sprintf("Round failed: %v", err)
	}
	if r.Type() == round.Regular {
		c.scheduleNextRound()
	}
}

// compareAndSwap installs the round's snapshot iff the version it was cloned
// from is still current; otherwise the round goes through merge-retry.
func (c *Collector) compareAndSwap(r *round.Round, reply chan string) {
	if c.version != r.OldVersion() {
		cmn.Log().Infof("installed snapshot has newer version %d (round %s has %d)",
			c.version, r.ID(), r.OldVersion())
		c.enqueue(func() { c.mergeAndTryAgain(r, reply) })
		return
	}

	cmn.Log().Infow("installing snapshot", "round", r.ID(), "version", c.version+1)
	c.snapshot = r.Snapshot()
	c.version++

	r.StopTotal()

	switch r.Type() {
	case round.Regular:
		c.recordRoundClock(r)
		c.scheduleNextRound()
	case round.ForcedFull:
		c.recordRoundClock(r)
		reply <- fmt.Sprintf("Update completed in %d ms", r.TotalMs())
	case round.ForcedPartial:
		reply <- fmt.Sprintf("Refresh completed in %d ms", r.TotalMs())
	}
}

// mergeAndTryAgain merges the installed snapshot into the round's one; when
// the round has nothing fresher it is discarded.
func (c *Collector) mergeAndTryAgain(r *round.Round, reply chan string) {
	haveNewer := false
	r.UpdateStorage(c.snapshot, c.version, &haveNewer)

	if !haveNewer {
		cmn.Log().Infow("installed snapshot is up-to-date, discarding round", "round", r.ID())
		if reply != nil {
			reply <- "Round completed, but nothing to update yet"
		}
		if r.Type() == round.Regular {
			c.scheduleNextRound()
		}
		return
	}

	cmn.Log().Infow("snapshot merged, scheduling a new CAS", "round", r.ID())
	c.enqueue(func() { c.compareAndSwap(r, reply) })
}

func (c *Collector) recordRoundClock(r *round.Round) {
	c.roundClock = *r.Clock()
	if c.metrics != nil {
		clock := r.Clock()
		c.metrics.Observe(clock.Total, c.discovery.ResolveNodesDuration(), clock.MetaDB,
			clock.PerformDownload, clock.FinishMonitorStatsAndJobs,
			clock.MetadataDownload, clock.StorageUpdate, clock.MergeTime)
	}
}

func (c *Collector) scheduleNextRound() {
	cmn.Log().Info("scheduling next round")
	time.AfterFunc(RoundPeriod, func() {
		c.enqueue(func() { c.startRound(context.Background(), round.Regular, nil, nil) })
	})
}
