// Package round implements one end-to-end collection cycle
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package round

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/mastermind/collector/monitor"
)

// maxConcurrentDownloads bounds the stats fan-out; the original multiplexed
// all transfers over one event loop.
const maxConcurrentDownloads = 64

// Downloader fetches monitor-stats documents from storage nodes.
type Downloader interface {
	FetchStats(addr string) ([]byte, error)
}

// HTTPDownloader is the fasthttp-backed production downloader.
type HTTPDownloader struct {
	client      *fasthttp.Client
	monitorPort uint64
	timeout     time.Duration
}

func NewHTTPDownloader(monitorPort, waitTimeoutSec uint64) *HTTPDownloader {
	timeout := time.Duration(waitTimeoutSec) * time.Second
	return &HTTPDownloader{
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxConnsPerHost:     4,
			MaxIdleConnDuration: time.Minute,
		},
		monitorPort: monitorPort,
		timeout:     timeout,
	}
}

// FetchStats issues the deflate-accepting monitor stats GET and returns the
// decompressed body.
func (d *HTTPDownloader) FetchStats(addr string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("http://%s:%d/?categories=%d", addr, d.monitorPort, monitor.Categories))
	req.Header.Set(fasthttp.HeaderAcceptEncoding, "deflate")

	if err := d.client.DoTimeout(req, resp, d.timeout); err != nil {
		return nil, errors.Wrapf(err, "download stats from %s", addr)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, errors.Errorf("download stats from %s: HTTP %d", addr, code)
	}

	body, err := resp.BodyUncompressed()
	if err != nil {
		return nil, errors.Wrapf(err, "decompress stats from %s", addr)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}
