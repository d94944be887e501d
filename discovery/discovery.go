// Package discovery resolves the node set and enriches hosts with name and DC
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package discovery

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/storage"
)

// RouteEntry is one (address, port, family) triple of the routing table.
type RouteEntry struct {
	Addr   string
	Port   int
	Family int
}

// RouteTable yields the current set of storage nodes.
type RouteTable interface {
	Routes(ctx context.Context) ([]RouteEntry, error)
}

// SeedRouteTable serves the statically configured peers. Entries are ordered
// by route key hash so every round walks them in the same order.
type SeedRouteTable struct {
	entries []RouteEntry
}

func NewSeedRouteTable(nodes []cmn.NodeInfo) *SeedRouteTable {
	entries := make([]RouteEntry, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, info := range nodes {
		key := storage.NodeKey(info.Host, info.Port, info.Family)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, RouteEntry{Addr: info.Host, Port: info.Port, Family: info.Family})
	}
	sort.Slice(entries, func(i, j int) bool {
		ki := xxhash.ChecksumString64(storage.NodeKey(entries[i].Addr, entries[i].Port, entries[i].Family))
		kj := xxhash.ChecksumString64(storage.NodeKey(entries[j].Addr, entries[j].Port, entries[j].Family))
		return ki < kj
	})
	return &SeedRouteTable{entries: entries}
}

func (rt *SeedRouteTable) Routes(context.Context) ([]RouteEntry, error) {
	return rt.entries, nil
}

// Resolver turns addresses into hostnames; the default is the OS resolver.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type Discovery struct {
	routeTable RouteTable
	inventory  Inventory
	resolver   Resolver

	resolveTimeout time.Duration

	resolveNodesDuration uint64
}

func New(routeTable RouteTable, inventory Inventory, resolver Resolver, resolveTimeout time.Duration) *Discovery {
	return &Discovery{
		routeTable:     routeTable,
		inventory:      inventory,
		resolver:       resolver,
		resolveTimeout: resolveTimeout,
	}
}

func (d *Discovery) Inventory() Inventory { return d.inventory }

func (d *Discovery) ResolveNodesDuration() uint64 { return d.resolveNodesDuration }

// ResolveNodes populates the target snapshot with the hosts and nodes of the
// routing table. Nodes are created even when host resolution fails; such
// hosts keep empty name and DC.
func (d *Discovery) ResolveNodes(ctx context.Context, s *storage.Storage) error {
	defer stats.NewStopwatch(&d.resolveNodesDuration).Stop()

	routes, err := d.routeTable.Routes(ctx)
	if err != nil {
		return err
	}

	for _, route := range routes {
		host := s.GetHost(route.Addr)

		if host.Name() == "" {
			name, err := d.resolveHostname(ctx, route.Addr)
			if err != nil {
				cmn.Log().Errorw("failed to resolve hostname",
					"addr", route.Addr, "port", route.Port, "family", route.Family, "err", err)
			} else {
				host.SetName(name)
			}
		}

		if host.Name() != "" && host.DC() == "" {
			dc, err := d.inventory.DCByHost(ctx, host.Name())
			if err != nil {
				cmn.Log().Warnw("failed to resolve DC", "host", host.Name(), "err", err)
			} else {
				host.SetDC(dc)
			}
		}

		if !s.HasNode(route.Addr, route.Port, route.Family) {
			s.AddNode(host, route.Port, route.Family)
		}
	}

	return nil
}

func (d *Discovery) resolveHostname(ctx context.Context, addr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.resolveTimeout)
	defer cancel()

	names, err := d.resolver.LookupAddr(ctx, addr)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}
