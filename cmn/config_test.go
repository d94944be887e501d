// Package cmn provides common low-level types and utilities for the collector
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package cmn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "mastermind", config.AppName)
	assert.Equal(t, uint64(10025), config.MonitorPort)
	assert.Equal(t, uint64(10), config.WaitTimeout)
	assert.Equal(t, uint64(112742891519), config.ReservedSpace)
	assert.Equal(t, uint64(3), config.NetThreadNum)
	assert.Equal(t, uint64(3), config.IOThreadNum)
	assert.Equal(t, uint64(3), config.NonblockingIOThreadNum)
	assert.Zero(t, config.ForbiddenDhtGroups)
	assert.Zero(t, config.ForbiddenDcSharing)
	assert.NoError(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mastermind.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"monitor_port": 20000,
		"wait_timeout": 5,
		"forbidden_dc_sharing_among_groups": 1,
		"nodes": [
			{"host": "2001:db8::1", "port": 1025, "family": 10}
		],
		"metadata": {
			"url": "mongodb://meta0:27017,meta1:27017/?replicaSet=rs0",
			"options": {"connectTimeoutMS": 4000},
			"jobs": {"db": "mastermind_jobs"},
			"history": {"db": "mastermind_history"}
		},
		"unknown_option": 42
	}`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(20000), config.MonitorPort)
	assert.Equal(t, uint64(5), config.WaitTimeout)
	assert.Equal(t, uint64(1), config.ForbiddenDcSharing)
	require.Len(t, config.Nodes, 1)
	assert.Equal(t, "2001:db8::1", config.Nodes[0].Host)
	assert.Equal(t, int64(4000), config.Metadata.Options.ConnectTimeoutMS)
	assert.Equal(t, "mastermind_jobs", config.Metadata.Jobs.DB)
	// options not set keep their defaults
	assert.Equal(t, uint64(112742891519), config.ReservedSpace)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.conf"))
	assert.Error(t, err)
}

func TestValidateZeroReservedSpace(t *testing.T) {
	config := DefaultConfig()
	config.ReservedSpace = 0
	assert.Error(t, config.Validate())
}

func TestValidateBadMonitorPort(t *testing.T) {
	config := DefaultConfig()
	config.MonitorPort = 0
	assert.Error(t, config.Validate())

	config.MonitorPort = 100000
	assert.Error(t, config.Validate())
}
