// Package discovery resolves the node set and enriches hosts with name and DC
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package discovery

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Inventory is the opaque host -> dc resolver. The production implementation
// lives in metadb; tests plug in a static one.
type Inventory interface {
	// DownloadInitial bulk-fetches the inventory before the first round.
	DownloadInitial(ctx context.Context) error
	// DCByHost resolves the data center of a host by its resolved name.
	DCByHost(ctx context.Context, hostname string) (string, error)
}

// NopInventory is used when no inventory database is configured; every DC
// resolves to empty.
type NopInventory struct{}

func (NopInventory) DownloadInitial(context.Context) error           { return nil }
func (NopInventory) DCByHost(context.Context, string) (string, error) { return "", nil }

// CachedInventory memoizes DC lookups with a TTL.
type CachedInventory struct {
	inner Inventory
	cache *gocache.Cache
}

func NewCachedInventory(inner Inventory, validTime, updatePeriod time.Duration) *CachedInventory {
	return &CachedInventory{
		inner: inner,
		cache: gocache.New(validTime, updatePeriod),
	}
}

func (ci *CachedInventory) DownloadInitial(ctx context.Context) error {
	return ci.inner.DownloadInitial(ctx)
}

func (ci *CachedInventory) DCByHost(ctx context.Context, hostname string) (string, error) {
	if dc, ok := ci.cache.Get(hostname); ok {
		return dc.(string), nil
	}
	dc, err := ci.inner.DCByHost(ctx, hostname)
	if err != nil {
		return "", err
	}
	if dc != "" {
		ci.cache.SetDefault(hostname, dc)
	}
	return dc, nil
}
