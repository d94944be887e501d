// Package cmn provides common low-level types and utilities for the collector
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package cmn

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	DefaultMonitorPort      = 10025
	DefaultWaitTimeout      = 10  // seconds
	DefaultStallTimeout     = 120 // seconds
	DefaultReservedSpace    = 112742891519
	DefaultConnectTimeoutMS = 5000
	DefaultAppName          = "mastermind"

	DefaultDCCacheUpdatePeriod = 150    // seconds
	DefaultDCCacheValidTime    = 604800 // seconds
	DefaultInventoryTimeout    = 5      // seconds
)

type (
	// NodeInfo is a seed peer used to bootstrap the routing table.
	NodeInfo struct {
		Host   string `json:"host"`
		Port   int    `json:"port"`
		Family int    `json:"family"`
	}

	MetadataDB struct {
		DB string `json:"db"`
	}

	MetadataOptions struct {
		ConnectTimeoutMS int64 `json:"connectTimeoutMS"`
	}

	Metadata struct {
		URL       string          `json:"url"`
		Options   MetadataOptions `json:"options"`
		History   MetadataDB      `json:"history"`
		Inventory MetadataDB      `json:"inventory"`
		Jobs      MetadataDB      `json:"jobs"`
	}

	Config struct {
		AppName string `json:"app_name"`

		MonitorPort  uint64 `json:"monitor_port"`
		WaitTimeout  uint64 `json:"wait_timeout"`
		StallTimeout uint64 `json:"node_backend_stat_stale_timeout"`

		ReservedSpace uint64 `json:"reserved_space"`

		ForbiddenDhtGroups          uint64 `json:"forbidden_dht_groups"`
		ForbiddenUnmatchedTotal     uint64 `json:"forbidden_unmatched_group_total_space"`
		ForbiddenNsWithoutSettings  uint64 `json:"forbidden_ns_without_settings"`
		ForbiddenDcSharing          uint64 `json:"forbidden_dc_sharing_among_groups"`

		NetThreadNum           uint64 `json:"net_thread_num"`
		IOThreadNum            uint64 `json:"io_thread_num"`
		NonblockingIOThreadNum uint64 `json:"nonblocking_io_thread_num"`

		DCCacheUpdatePeriod    uint64 `json:"infrastructure_dc_cache_update_period"`
		DCCacheValidTime       uint64 `json:"infrastructure_dc_cache_valid_time"`
		InventoryWorkerTimeout uint64 `json:"inventory_worker_timeout"`

		Nodes []NodeInfo `json:"nodes"`

		Metadata Metadata `json:"metadata"`
	}
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func DefaultConfig() *Config {
	return &Config{
		AppName:                DefaultAppName,
		MonitorPort:            DefaultMonitorPort,
		WaitTimeout:            DefaultWaitTimeout,
		StallTimeout:           DefaultStallTimeout,
		ReservedSpace:          DefaultReservedSpace,
		NetThreadNum:           3,
		IOThreadNum:            3,
		NonblockingIOThreadNum: 3,
		DCCacheUpdatePeriod:    DefaultDCCacheUpdatePeriod,
		DCCacheValidTime:       DefaultDCCacheValidTime,
		InventoryWorkerTimeout: DefaultInventoryTimeout,
		Metadata: Metadata{
			Options: MetadataOptions{ConnectTimeoutMS: DefaultConnectTimeoutMS},
		},
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
// Unrecognized options are ignored.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parse config %q", path)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.ReservedSpace == 0 {
		return errors.New("config: zero reserved_space")
	}
	if c.MonitorPort == 0 || c.MonitorPort > 65535 {
		return errors.Errorf("config: invalid monitor_port %d", c.MonitorPort)
	}
	if c.WaitTimeout == 0 {
		return errors.New("config: zero wait_timeout")
	}
	return nil
}
