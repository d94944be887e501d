// Package metadb fetches jobs, group history and inventory from MongoDB
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package metadb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/storage"
)

const (
	jobsCollection      = "jobs"
	historyCollection   = "history"
	inventoryCollection = "inventory"
)

// MetaDB is one client to the metadata replica set. Reads use the
// primary-preferred preference: the collector only observes, so reading from
// a secondary during elections is acceptable.
type MetaDB struct {
	client *mongo.Client
	config *cmn.Metadata
}

// Connect establishes the replica-set client; it fails when the URL is not
// configured.
func Connect(ctx context.Context, config *cmn.Metadata) (*MetaDB, error) {
	if config.URL == "" {
		return nil, errors.New("metadb: no metadata.url configured")
	}

	opts := options.Client().
		ApplyURI(config.URL).
		SetConnectTimeout(time.Duration(config.Options.ConnectTimeoutMS) * time.Millisecond).
		SetReadPreference(readpref.PrimaryPreferred())

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "metadb: connect")
	}
	return &MetaDB{client: client, config: config}, nil
}

func (m *MetaDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// FetchJobs returns all jobs that are neither completed nor cancelled.
// Malformed documents are logged and skipped.
func (m *MetaDB) FetchJobs(ctx context.Context) ([]*storage.Job, uint64, error) {
	if m.config.Jobs.DB == "" {
		return nil, 0, errors.New("metadb: no jobs database configured")
	}

	coll := m.client.Database(m.config.Jobs.DB).Collection(jobsCollection)

	filter := bson.M{
		"status": bson.M{"$nin": bson.A{"completed", "cancelled"}},
	}
	projection := bson.M{"id": 1, "status": 1, "group": 1, "type": 1}

	cursor, err := coll.Find(ctx, filter, options.Find().SetProjection(projection))
	if err != nil {
		return nil, 0, errors.Wrap(err, "metadb: query jobs")
	}
	defer cursor.Close(ctx)

	fetchTime := stats.WallNano()

	var jobs []*storage.Job
	count := 0
	for cursor.Next(ctx) {
		count++
		job, err := storage.NewJobFromBSON(bson.Raw(cursor.Current), fetchTime)
		if err != nil {
			cmn.Log().Errorw("failed to parse job record", "err", err, "doc", cursor.Current.String())
			continue
		}
		jobs = append(jobs, job)
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "metadb: jobs cursor")
	}

	cmn.Log().Infof("successfully processed %d of %d active jobs", len(jobs), count)
	return jobs, fetchTime, nil
}

// FetchGroupHistory loads history entries with any node record newer than
// sinceSec. Entries of type "automatic" are dropped by the decoder.
func (m *MetaDB) FetchGroupHistory(ctx context.Context, sinceSec float64) ([]*storage.GroupHistoryEntry, error) {
	if m.config.History.DB == "" {
		return nil, errors.New("metadb: no history database configured")
	}

	coll := m.client.Database(m.config.History.DB).Collection(historyCollection)

	cursor, err := coll.Find(ctx, bson.M{"nodes.timestamp": bson.M{"$gt": sinceSec}})
	if err != nil {
		return nil, errors.Wrap(err, "metadb: query history")
	}
	defer cursor.Close(ctx)

	var entries []*storage.GroupHistoryEntry
	for cursor.Next(ctx) {
		entry, err := storage.NewGroupHistoryEntryFromBSON(bson.Raw(cursor.Current))
		if err != nil {
			cmn.Log().Errorw("failed to parse history record", "err", err, "doc", cursor.Current.String())
			continue
		}
		if entry.Empty() {
			continue
		}
		entries = append(entries, entry)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "metadb: history cursor")
	}

	cmn.Log().Infof("loaded %d group history entries", len(entries))
	return entries, nil
}

// Inventory implements the discovery inventory over the inventory
// collection; documents are {hostname, dc} pairs.
type Inventory struct {
	db    *MetaDB
	hosts map[string]string
}

func NewInventory(db *MetaDB) *Inventory {
	return &Inventory{db: db, hosts: make(map[string]string)}
}

type inventoryDoc struct {
	Hostname string `bson:"hostname"`
	DC       string `bson:"dc"`
}

func (inv *Inventory) DownloadInitial(ctx context.Context) error {
	if inv.db.config.Inventory.DB == "" {
		return errors.New("metadb: no inventory database configured")
	}

	coll := inv.db.client.Database(inv.db.config.Inventory.DB).Collection(inventoryCollection)

	cursor, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return errors.Wrap(err, "metadb: query inventory")
	}
	defer cursor.Close(ctx)

	hosts := make(map[string]string)
	for cursor.Next(ctx) {
		var doc inventoryDoc
		if err := bson.Unmarshal(cursor.Current, &doc); err != nil {
			cmn.Log().Errorw("failed to parse inventory record", "err", err)
			continue
		}
		if doc.Hostname != "" {
			hosts[doc.Hostname] = doc.DC
		}
	}
	if err := cursor.Err(); err != nil {
		return errors.Wrap(err, "metadb: inventory cursor")
	}

	inv.hosts = hosts
	cmn.Log().Infof("downloaded inventory for %d hosts", len(hosts))
	return nil
}

func (inv *Inventory) DCByHost(ctx context.Context, hostname string) (string, error) {
	if dc, ok := inv.hosts[hostname]; ok {
		return dc, nil
	}

	coll := inv.db.client.Database(inv.db.config.Inventory.DB).Collection(inventoryCollection)

	var doc inventoryDoc
	err := coll.FindOne(ctx, bson.M{"hostname": hostname}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "metadb: inventory lookup")
	}
	return doc.DC, nil
}
