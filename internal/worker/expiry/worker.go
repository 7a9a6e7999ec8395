// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package expiry runs the lease-expiry ticker: a worker that periodically
// asks the engine to reclaim capacity from leases whose holders have gone
// silent. The interval should stay at or below a quarter of the lease TTL
// so expiry is observed promptly.
package expiry

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4/catacomb"
)

var logger = loggo.GetLogger("synthiacore.worker.expiry")

// DefaultInterval is the tick cadence when none is configured.
const DefaultInterval = 2 * time.Second

// Ticker is the slice of the engine the worker drives.
type Ticker interface {
	// ExpireTick reclaims expired leases and reports how many were
	// removed.
	ExpireTick(ctx context.Context) int
}

// Config holds the worker's dependencies.
type Config struct {
	Clock    clock.Clock
	Ticker   Ticker
	Interval time.Duration
}

// Validate returns an error if the config cannot back a worker.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Ticker == nil {
		return errors.NotValidf("nil Ticker")
	}
	if config.Interval < 0 {
		return errors.NotValidf("interval %v", config.Interval)
	}
	return nil
}

// Worker ticks the engine's expiry pass until killed.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWorker returns a started expiry worker. The caller takes
// responsibility for killing it and handling its errors.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	w := &Worker{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "lease-expiry",
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()

	ctx := w.scopedContext()
	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-timer.Chan():
			if n := w.config.Ticker.ExpireTick(ctx); n > 0 {
				logger.Debugf("reclaimed %d expired leases", n)
			}
			timer.Reset(w.config.Interval)
		}
	}
}

// scopedContext returns a context that is cancelled when the worker dies.
func (w *Worker) scopedContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-w.catacomb.Dying()
		cancel()
	}()
	return ctx
}
