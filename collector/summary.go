// Package collector owns the installed snapshot and schedules rounds
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package collector

import (
	"fmt"
	"strings"

	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/storage"
)

func msec(ns uint64) uint64 { return ns / 1000000 }

// summary runs on the executor and reports entity counts with per-status
// breakdowns plus the latency distributions of the last full round.
func (c *Collector) summary() string {
	s := c.snapshot

	backendStatus := make(map[storage.BackendStatus]int)
	groupStatus := make(map[storage.GroupStatus]int)
	groupType := make(map[storage.GroupType]int)
	coupleStatus := make(map[storage.CoupleStatus]int)
	fsStatus := make(map[storage.FSStatus]int)
	jobStatus := make(map[storage.JobStatus]int)

	nrBackends, nrFilesystems := 0, 0

	for _, g := range s.Groups() {
		groupStatus[g.Status()]++
		groupType[g.Type()]++
	}
	for _, couple := range s.Couples() {
		coupleStatus[couple.Status()]++
	}
	for _, node := range s.Nodes() {
		nrBackends += len(node.Backends())
		for _, b := range node.Backends() {
			backendStatus[b.Status()]++
		}
		nrFilesystems += len(node.Filesystems())
		for _, fs := range node.Filesystems() {
			fsStatus[fs.Status()]++
		}
	}
	for _, job := range s.Jobs() {
		jobStatus[job.Status]++
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "Storage contains:\n%d nodes\n", len(s.Nodes()))

	fmt.Fprintf(&sb, "%d filesystems\n  ( ", nrFilesystems)
	for st := storage.FSOK; st <= storage.FSBroken; st++ {
		if n := fsStatus[st]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, st)
		}
	}

	fmt.Fprintf(&sb, ")\n%d backends\n  ( ", nrBackends)
	for st := storage.BackendInit; st <= storage.BackendBroken; st++ {
		if n := backendStatus[st]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, st)
		}
	}

	fmt.Fprintf(&sb, ")\n%d groups\n  ( ", len(s.Groups()))
	for st := storage.GroupInit; st <= storage.GroupMigrating; st++ {
		if n := groupStatus[st]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, st)
		}
	}
	sb.WriteString(")\n  ( ")
	for t := storage.GroupData; t <= storage.GroupUnmarked; t++ {
		if n := groupType[t]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, t)
		}
	}

	fmt.Fprintf(&sb, ")\n%d couples\n  ( ", len(s.Couples()))
	for st := storage.CoupleInit; st <= storage.CoupleServiceStalled; st++ {
		if n := coupleStatus[st]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, st)
		}
	}
	sb.WriteString(")\n")

	fmt.Fprintf(&sb, "%d namespaces\n%d jobs\n  ( ", len(s.Namespaces()), len(s.Jobs()))
	for st := storage.JobNew; st <= storage.JobCancelled; st++ {
		if n := jobStatus[st]; n != 0 {
			fmt.Fprintf(&sb, "%d %s ", n, st)
		}
	}
	sb.WriteString(")\n")

	fmt.Fprintf(&sb, "Round metrics:\n"+
		"  Total time: %d ms\n"+
		"  Resolve nodes: %d ms\n"+
		"  Jobs & history databases: %d ms\n"+
		"  HTTP download time: %d ms\n"+
		"  Remaining JSON parsing and jobs processing after HTTP download completed: %d ms\n"+
		"  Metadata download: %d ms\n"+
		"  Storage update: %d ms\n"+
		"  Storage merge: %d ms\n",
		msec(c.roundClock.Total),
		msec(c.discovery.ResolveNodesDuration()),
		msec(c.roundClock.MetaDB),
		msec(c.roundClock.PerformDownload),
		msec(c.roundClock.FinishMonitorStatsAndJobs),
		msec(c.roundClock.MetadataDownload),
		msec(c.roundClock.StorageUpdate),
		msec(c.roundClock.MergeTime))

	var distribStatsParse, distribUpdateFS stats.Distribution
	for _, node := range s.Nodes() {
		clock := node.ClockStat()
		distribStatsParse.AddSample(clock.StatsParse)
		distribUpdateFS.AddSample(clock.UpdateFS)
	}
	fmt.Fprintf(&sb, "\nDistribution for node stats parsing:\n%s\nDistribution for node fs update:\n%s\n",
		distribStatsParse.String(), distribUpdateFS.String())

	var distribMetadata stats.Distribution
	for _, g := range s.Groups() {
		distribMetadata.AddSample(g.MetadataParseDuration())
	}
	fmt.Fprintf(&sb, "Distribution for group metadata processing:\n%s\n", distribMetadata.String())

	var distribCouple stats.Distribution
	for _, couple := range s.Couples() {
		distribCouple.AddSample(couple.UpdateStatusDuration())
	}
	fmt.Fprintf(&sb, "Distribution for couple update_status:\n%s", distribCouple.String())

	return sb.String()
}
