// Package storage implements the typed entity model and the snapshot container
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package storage

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// HistoryBackend identifies one backend within a group-history record.
// Hosts are recorded by name, not address.
type HistoryBackend struct {
	Hostname  string
	Port      int
	Family    int
	BackendID uint64
}

// GroupHistoryEntry is the most recent non-automatic membership record of a
// group. Timestamp is in seconds (fractional).
type GroupHistoryEntry struct {
	GroupID   int
	Timestamp float64
	Backends  map[HistoryBackend]struct{}
}

// Empty reports whether no node record was accepted; an accepted record with
// an empty backend set is not empty.
func (e *GroupHistoryEntry) Empty() bool { return e.Backends == nil }

type historyBackendDoc struct {
	Hostname  string `bson:"hostname"`
	Port      int    `bson:"port"`
	Family    int    `bson:"family"`
	BackendID uint64 `bson:"backend_id"`
	Path      string `bson:"path"`
}

type historyNodeDoc struct {
	Timestamp float64             `bson:"timestamp"`
	Type      string              `bson:"type"`
	Set       []historyBackendDoc `bson:"set"`
}

type historyDoc struct {
	GroupID *int             `bson:"group_id"`
	Nodes   []historyNodeDoc `bson:"nodes"`
}

// NewGroupHistoryEntryFromBSON decodes one history-collection document,
// keeping only the most recent node record of type other than "automatic".
func NewGroupHistoryEntryFromBSON(raw bson.Raw) (*GroupHistoryEntry, error) {
	var doc historyDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode history document")
	}
	if doc.GroupID == nil {
		return nil, errors.New("history document without group_id")
	}

	entry := &GroupHistoryEntry{GroupID: *doc.GroupID}
	for i := range doc.Nodes {
		node := &doc.Nodes[i]
		if node.Timestamp < entry.Timestamp {
			continue
		}
		if node.Type == "automatic" {
			continue
		}

		backends := make(map[HistoryBackend]struct{}, len(node.Set))
		for _, b := range node.Set {
			backends[HistoryBackend{
				Hostname:  b.Hostname,
				Port:      b.Port,
				Family:    b.Family,
				BackendID: b.BackendID,
			}] = struct{}{}
		}

		entry.Backends = backends
		entry.Timestamp = node.Timestamp
	}

	return entry, nil
}
