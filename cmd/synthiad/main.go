// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// synthiad is the scheduler daemon: it wires the engine, the busy-rating
// evaluator, the history store, the expiry worker and the HTTP surface
// together and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/tomb.v2"

	"github.com/danhajduk/SynthiaCore/apiserver"
	coremetrics "github.com/danhajduk/SynthiaCore/core/metrics"
	"github.com/danhajduk/SynthiaCore/internal/busyrating"
	"github.com/danhajduk/SynthiaCore/internal/config"
	"github.com/danhajduk/SynthiaCore/internal/history"
	"github.com/danhajduk/SynthiaCore/internal/metrics"
	"github.com/danhajduk/SynthiaCore/internal/scheduler"
	"github.com/danhajduk/SynthiaCore/internal/worker/expiry"
)

var logger = loggo.GetLogger("synthiacore.cmd")

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "synthiad: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}

	clk := clock.WallClock

	var sink scheduler.HistorySink
	var historyStore *history.Store
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0755); err != nil {
			return errors.Annotate(err, "creating history directory")
		}
		historyStore, err = history.Open(cfg.HistoryPath, clk)
		if err != nil {
			return errors.Trace(err)
		}
		defer func() { _ = historyStore.Close() }()
		sink = historyStore
	}

	collector := metrics.NewCollector(clk, cfg.APIMetricsWindow())
	provider := coremetrics.ProviderFunc(func() (*coremetrics.Sample, *coremetrics.Sample) {
		// No host stats collector ships with the daemon; the API sample
		// alone drives the rating, and its absence fails closed.
		return nil, collector.Sample()
	})
	rater, err := busyrating.NewEvaluator(busyrating.Config{
		Clock:            clk,
		Provider:         provider,
		FailClosedRating: cfg.FailClosedBusyRating,
	})
	if err != nil {
		return errors.Trace(err)
	}

	engine, err := scheduler.New(scheduler.Config{
		Clock:                   clk,
		Rater:                   rater,
		History:                 sink,
		TotalCapacityUnits:      cfg.TotalCapacityUnits,
		ReserveUnits:            cfg.ReserveUnits,
		HeadroomPct:             cfg.HeadroomPct,
		LeaseTTL:                cfg.LeaseTTL(),
		HeartbeatGrace:          cfg.HeartbeatGrace(),
		MaxActiveLeases:         cfg.MaxActiveLeases,
		MaxActiveLeasesPerOwner: cfg.MaxActiveLeasesPerOwner,
	})
	if err != nil {
		return errors.Trace(err)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(scheduler.NewCollector(engine)); err != nil {
		return errors.Annotate(err, "registering scheduler metrics")
	}

	expiryWorker, err := expiry.NewWorker(expiry.Config{
		Clock:    clk,
		Ticker:   engine,
		Interval: cfg.ExpiryInterval(),
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		expiryWorker.Kill()
		_ = expiryWorker.Wait()
	}()

	var retention tomb.Tomb
	if historyStore != nil {
		retention.Go(func() error {
			return retentionLoop(retention.Dying(), clk, historyStore, cfg.HistoryRetentionDays)
		})
		defer func() {
			retention.Kill(nil)
			_ = retention.Wait()
		}()
	}

	server, err := apiserver.NewServer(apiserver.Config{
		Engine:  engine,
		History: statsSource(historyStore),
	})
	if err != nil {
		return errors.Trace(err)
	}

	root := http.NewServeMux()
	root.Handle("/v1/", collector.Middleware(server.Router()))
	root.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: root,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return errors.Annotate(err, "shutting down http server")
		}
		return nil
	case err := <-errCh:
		return errors.Annotate(err, "http server")
	}
}

// statsSource converts the optional store for the apiserver. The nil
// pointer must not reach the interface, or the server's disabled-history
// check cannot see it.
func statsSource(store *history.Store) apiserver.StatsSource {
	if store == nil {
		return nil
	}
	return store
}

// retentionLoop prunes old history rows once a day.
func retentionLoop(dying <-chan struct{}, clk clock.Clock, store *history.Store, days int) error {
	for {
		select {
		case <-dying:
			return tomb.ErrDying
		case <-clk.After(24 * time.Hour):
			removed, err := store.Cleanup(context.Background(), days)
			if err != nil {
				logger.Warningf("history cleanup: %v", err)
				continue
			}
			if removed > 0 {
				logger.Infof("history cleanup removed %d rows", removed)
			}
		}
	}
}
