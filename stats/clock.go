// Package stats provides stage stopwatches and latency distributions
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/mastermind/collector/cmn/mono"
)

// WallClock is the only wall-clock reader in the collector; everything else
// runs on the monotonic clock. Tests override it.
var WallClock = func() time.Time { return time.Now() }

// WallNano returns wall-clock nanoseconds since the epoch.
func WallNano() uint64 { return uint64(WallClock().UnixNano()) }

// ClockStart stores the current monotonic reading in the slot; ClockStop
// replaces it with the elapsed nanoseconds.
func ClockStart(slot *uint64) { *slot = uint64(mono.NanoTime()) }

func ClockStop(slot *uint64) { *slot = uint64(mono.NanoTime()) - *slot }

// Stopwatch writes the elapsed nanoseconds to a caller-provided slot when
// stopped or released.
type Stopwatch struct {
	record  *uint64
	started int64
	stopped bool
}

func NewStopwatch(record *uint64) *Stopwatch {
	return &Stopwatch{record: record, started: mono.NanoTime()}
}

func (w *Stopwatch) Stop() {
	if w.stopped {
		return
	}
	*w.record = uint64(mono.Since(w.started))
	w.stopped = true
}
