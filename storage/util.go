// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/stats"
)

func log() *zap.SugaredLogger { return cmn.Log() }

func newStopwatch(record *uint64) *stats.Stopwatch { return stats.NewStopwatch(record) }

func timevalUserFriendly(sec, usec uint64) string {
	return fmt.Sprintf("%s.%06d",
		time.Unix(int64(sec), 0).UTC().Format("2006-01-02 15:04:05"), usec)
}

func writeTimestampJSON(s *jsoniter.Stream, sec, usec uint64, showInternals bool) {
	s.WriteObjectStart()
	s.WriteObjectField("tv_sec")
	s.WriteUint64(sec)
	s.WriteMore()
	s.WriteObjectField("tv_usec")
	s.WriteUint64(usec)
	if showInternals {
		s.WriteMore()
		s.WriteObjectField("user_friendly")
		s.WriteString(timevalUserFriendly(sec, usec))
	}
	s.WriteObjectEnd()
}
