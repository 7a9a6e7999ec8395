// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics keeps a rolling in-memory window of API request events
// and snapshots it into the loosely-keyed sample the busy-rating evaluator
// consumes. Cheap and good enough for a single node.
package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	coremetrics "github.com/danhajduk/SynthiaCore/core/metrics"
)

const (
	// DefaultWindow is the trailing window summarized by Sample.
	DefaultWindow = time.Minute

	// maxEvents bounds memory when traffic outruns pruning.
	maxEvents = 50000
)

type event struct {
	at      time.Time
	elapsed time.Duration
	status  int
}

// Collector records request events and produces API samples. Safe for
// concurrent use.
type Collector struct {
	clock  clock.Clock
	window time.Duration

	mu       sync.Mutex
	events   []event
	inflight int
}

// NewCollector returns a Collector summarizing the given trailing window.
// A zero window means DefaultWindow.
func NewCollector(clk clock.Clock, window time.Duration) *Collector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Collector{clock: clk, window: window}
}

// Middleware wraps a handler, tracking in-flight count, latency and
// status for every request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.begin()
		start := c.clock.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			c.end(event{
				at:      start,
				elapsed: c.clock.Now().Sub(start),
				status:  sw.status,
			})
		}()
		next.ServeHTTP(sw, r)
	})
}

func (c *Collector) begin() {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()
}

func (c *Collector) end(ev event) {
	c.mu.Lock()
	if c.inflight > 0 {
		c.inflight--
	}
	c.events = append(c.events, ev)
	if len(c.events) > maxEvents {
		c.events = c.events[len(c.events)-maxEvents:]
	}
	c.mu.Unlock()
}

// Sample summarizes the trailing window: requests per second, p95 latency,
// error rate (5xx fraction) and in-flight count.
func (c *Collector) Sample() *coremetrics.Sample {
	now := c.clock.Now()
	cutoff := now.Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune(cutoff)

	var (
		latencies []float64
		errCount  int
	)
	for _, ev := range c.events {
		latencies = append(latencies, float64(ev.elapsed)/float64(time.Millisecond))
		if ev.status >= http.StatusInternalServerError {
			errCount++
		}
	}

	fields := map[string]float64{
		"inflight": float64(c.inflight),
	}
	if total := len(c.events); total > 0 {
		fields["rps"] = float64(total) / c.window.Seconds()
		fields["p95_ms"] = percentile95(latencies)
		fields["error_rate"] = float64(errCount) / float64(total)
	}
	return &coremetrics.Sample{CollectedAt: now, Fields: fields}
}

// prune drops events that fell out of the window. Called with mu held.
func (c *Collector) prune(cutoff time.Time) {
	keep := 0
	for keep < len(c.events) && c.events[keep].at.Before(cutoff) {
		keep++
	}
	if keep > 0 {
		c.events = append(c.events[:0], c.events[keep:]...)
	}
}

func percentile95(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
