// Package worker exposes the collector operations over HTTP
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package worker

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/collector"
	"github.com/mastermind/collector/storage"
)

// Worker adapts the RPC surface: each operation receives one JSON payload
// and writes one JSON string or a text report.
type Worker struct {
	collector *collector.Collector
}

func New(c *collector.Collector) *Worker {
	return &Worker{collector: c}
}

// Router builds the HTTP surface.
func (w *Worker) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/summary", w.handleSummary)
	r.Post("/force_update", w.handleForceUpdate)
	r.Post("/get_snapshot", w.handleGetSnapshot)
	r.Post("/refresh", w.handleRefresh)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (w *Worker) handleSummary(rw http.ResponseWriter, req *http.Request) {
	result, err := w.collector.Summary(req.Context())
	writeReply(rw, result, err)
}

func (w *Worker) handleForceUpdate(rw http.ResponseWriter, req *http.Request) {
	result, err := w.collector.ForceUpdate(context.WithoutCancel(req.Context()))
	writeReply(rw, result, err)
}

func (w *Worker) handleGetSnapshot(rw http.ResponseWriter, req *http.Request) {
	f, err := readFilter(req)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := w.collector.GetSnapshot(req.Context(), f)
	writeReply(rw, result, err)
}

func (w *Worker) handleRefresh(rw http.ResponseWriter, req *http.Request) {
	f, err := readFilter(req)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := w.collector.Refresh(context.WithoutCancel(req.Context()), f)
	writeReply(rw, result, err)
}

func readFilter(req *http.Request) (*storage.Filter, error) {
	payload, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return storage.ParseFilter(payload)
}

func writeReply(rw http.ResponseWriter, result string, err error) {
	if err != nil {
		cmn.Log().Errorw("request failed", "err", err)
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(rw, result)
}
