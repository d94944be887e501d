// Package worker exposes the collector operations over HTTP
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package worker

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/collector"
	"github.com/mastermind/collector/discovery"
	"github.com/mastermind/collector/round"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	config := cmn.DefaultConfig()

	disc := discovery.New(discovery.NewSeedRouteTable(nil), discovery.NopInventory{}, nil, time.Second)
	c := collector.New(config, disc, round.Deps{Config: config}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	server := httptest.NewServer(New(c).Router())
	t.Cleanup(server.Close)
	return server
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestGetSnapshotEndpoint(t *testing.T) {
	server := testServer(t)

	code, body := post(t, server.URL+"/get_snapshot", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"nodes"`)
	assert.Contains(t, body, `"couples"`)
}

func TestGetSnapshotEndpointWithFilter(t *testing.T) {
	server := testServer(t)

	code, body := post(t, server.URL+"/get_snapshot", `{"item_types": ["node"]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"nodes"`)
	assert.NotContains(t, body, `"couples"`)
}

func TestGetSnapshotEndpointBadFilter(t *testing.T) {
	server := testServer(t)

	code, _ := post(t, server.URL+"/get_snapshot", `{"item_types": ["gizmo"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSummaryEndpoint(t *testing.T) {
	server := testServer(t)

	code, body := post(t, server.URL+"/summary", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Storage contains:")
}
