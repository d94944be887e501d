// Package stats provides stage stopwatches and latency distributions
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Round stage durations are exported as gauges: each round overwrites the
// previous observation, which matches the summary semantics (the last
// completed round's timings).
type RoundMetrics struct {
	Total           prometheus.Gauge
	ResolveNodes    prometheus.Gauge
	MetaDB          prometheus.Gauge
	HTTPDownload    prometheus.Gauge
	FinishStats     prometheus.Gauge
	MetadataRead    prometheus.Gauge
	SnapshotUpdate  prometheus.Gauge
	SnapshotMerge   prometheus.Gauge
}

func NewRoundMetrics(reg prometheus.Registerer) *RoundMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collector",
			Subsystem: "round",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}
	return &RoundMetrics{
		Total:          gauge("total_seconds", "Total round duration"),
		ResolveNodes:   gauge("resolve_nodes_seconds", "Node resolution duration"),
		MetaDB:         gauge("metadb_seconds", "Jobs and history fetch duration"),
		HTTPDownload:   gauge("http_download_seconds", "Monitor stats download duration"),
		FinishStats:    gauge("finish_stats_seconds", "Post-download parse and jobs processing duration"),
		MetadataRead:   gauge("metadata_read_seconds", "Group metadata read duration"),
		SnapshotUpdate: gauge("snapshot_update_seconds", "Snapshot update pass duration"),
		SnapshotMerge:  gauge("snapshot_merge_seconds", "Snapshot merge duration"),
	}
}

func (m *RoundMetrics) Observe(totalNs, resolveNs, metaDBNs, downloadNs, finishNs, metaReadNs, updateNs, mergeNs uint64) {
	sec := func(ns uint64) float64 { return float64(ns) / 1e9 }
	m.Total.Set(sec(totalNs))
	m.ResolveNodes.Set(sec(resolveNs))
	m.MetaDB.Set(sec(metaDBNs))
	m.HTTPDownload.Set(sec(downloadNs))
	m.FinishStats.Set(sec(finishNs))
	m.MetadataRead.Set(sec(metaReadNs))
	m.SnapshotUpdate.Set(sec(updateNs))
	m.SnapshotMerge.Set(sec(mergeNs))
}
