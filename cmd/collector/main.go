// Command collector runs the mastermind collector worker.
/*
 * Copyright (c) 2015, YANDEX LLC. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mastermind/collector/cmn"
	"github.com/mastermind/collector/collector"
	"github.com/mastermind/collector/discovery"
	"github.com/mastermind/collector/metadb"
	"github.com/mastermind/collector/round"
	"github.com/mastermind/collector/stats"
	"github.com/mastermind/collector/worker"
)

const defaultConfigPath = "/etc/elliptics/mastermind.conf"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the collector config")
	listenAddr := flag.String("listen", ":8383", "RPC listen address")
	logPath := flag.String("log", "", "log file path (stderr when empty)")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if err := cmn.InitLogger(*logPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	config, err := cmn.LoadConfig(*configPath)
	if err != nil {
		cmn.Log().Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps := round.Deps{
		Config:      config,
		Downloader:  round.NewHTTPDownloader(config.MonitorPort, config.WaitTimeout),
		MetaSession: round.NewHTTPMetaSession(config.MonitorPort, config.WaitTimeout),
	}

	var inventory discovery.Inventory = discovery.NopInventory{}
	if config.Metadata.URL != "" {
		db, err := metadb.Connect(ctx, &config.Metadata)
		if err != nil {
			cmn.Log().Fatalf("failed to connect to metadata database: %v", err)
		}
		defer db.Close(context.Background())
		deps.MetaDB = db

		if config.Metadata.Inventory.DB != "" {
			inventory = discovery.NewCachedInventory(
				metadb.NewInventory(db),
				time.Duration(config.DCCacheValidTime)*time.Second,
				time.Duration(config.DCCacheUpdatePeriod)*time.Second)
		}
	} else {
		cmn.Log().Warn("no metadata database configured; jobs and history are disabled")
	}

	disc := discovery.New(
		discovery.NewSeedRouteTable(config.Nodes),
		inventory,
		net.DefaultResolver,
		time.Duration(config.InventoryWorkerTimeout)*time.Second)

	metrics := stats.NewRoundMetrics(prometheus.DefaultRegisterer)

	c := collector.New(config, disc, deps, metrics)
	go c.Run(ctx)
	c.Start(ctx)

	server := &http.Server{Addr: *listenAddr, Handler: worker.New(c).Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	cmn.Log().Infof("%s collector listening on %s", config.AppName, *listenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		cmn.Log().Fatalf("server failed: %v", err)
	}
}
