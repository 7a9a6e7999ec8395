// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package busyrating maps a metrics snapshot to an integer 0..10 load
// indicator. The evaluator fails closed: when metrics are missing or stale
// it reports a configurable high rating so the scheduler throttles
// admissions until the provider recovers.
package busyrating

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/danhajduk/SynthiaCore/core/metrics"
)

const (
	// DefaultFailClosedRating is the conventional rating for absent
	// metrics; the daemon configuration defaults to it.
	DefaultFailClosedRating = 8

	// hostStaleAfter is how old a host sample may be before it is treated
	// as absent.
	hostStaleAfter = 30 * time.Second
)

// Field aliases tolerated until the stats schema is frozen. Order matters:
// the first present name wins.
var (
	cpuAliases      = []string{"cpu_percent", "cpu_pct", "cpu"}
	memAliases      = []string{"mem_percent", "memory_percent", "mem_pct", "ram_percent", "ram_pct"}
	p95Aliases      = []string{"p95_ms", "latency_p95_ms", "p95", "p95_latency_ms"}
	errRateAliases  = []string{"error_rate", "errors_rate", "err_rate"}
	inflightAliases = []string{"inflight", "in_flight", "active_requests"}
)

// Config holds an Evaluator's dependencies.
type Config struct {
	// Clock supplies the time used for staleness checks.
	Clock clock.Clock

	// Provider returns the latest host and API samples.
	Provider metrics.Provider

	// FailClosedRating is returned when both samples are absent. The
	// value is honored verbatim: zero means report idle on missing
	// metrics, i.e. never throttle for that reason.
	FailClosedRating int
}

// Validate returns an error if the config cannot back an Evaluator.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Provider == nil {
		return errors.NotValidf("nil Provider")
	}
	if config.FailClosedRating < 0 || config.FailClosedRating > 10 {
		return errors.NotValidf("fail-closed rating %d", config.FailClosedRating)
	}
	return nil
}

// Evaluator computes busy ratings from provider samples. It holds no state
// beyond its configuration and is safe for concurrent use.
type Evaluator struct {
	config Config
}

// NewEvaluator returns an Evaluator using the supplied config.
func NewEvaluator(config Config) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Evaluator{config: config}, nil
}

// Rating returns the current busy rating in [0, 10].
//
// The score accumulates contributions from whichever signals are present:
// CPU up to 4, memory up to 3, API p95 latency up to 3, API error rate up
// to 3, in-flight requests up to 2, clamped to 10. A host sample older than
// 30s is discarded as stale. With neither sample present the fail-closed
// rating is returned.
func (e *Evaluator) Rating() int {
	host, api := e.config.Provider.Metrics()
	if host == nil && api == nil {
		return e.config.FailClosedRating
	}

	if host != nil && !host.CollectedAt.IsZero() {
		if e.config.Clock.Now().Sub(host.CollectedAt) > hostStaleAfter {
			host = nil
		}
	}
	if host == nil && api == nil {
		return e.config.FailClosedRating
	}

	score := 0
	if cpu, ok := host.Field(cpuAliases...); ok {
		switch {
		case cpu >= 95:
			score += 4
		case cpu >= 85:
			score += 3
		case cpu >= 70:
			score += 2
		case cpu >= 50:
			score += 1
		}
	}
	if mem, ok := host.Field(memAliases...); ok {
		switch {
		case mem >= 95:
			score += 3
		case mem >= 85:
			score += 2
		case mem >= 70:
			score += 1
		}
	}
	if p95, ok := api.Field(p95Aliases...); ok {
		switch {
		case p95 >= 1500:
			score += 3
		case p95 >= 800:
			score += 2
		case p95 >= 400:
			score += 1
		}
	}
	if rate, ok := api.Field(errRateAliases...); ok {
		// Collectors disagree on whether this is a fraction or a
		// percentage; normalize to a fraction.
		if rate > 1 {
			rate = rate / 100
		}
		switch {
		case rate >= 0.10:
			score += 3
		case rate >= 0.03:
			score += 2
		case rate >= 0.01:
			score += 1
		}
	}
	if inflight, ok := api.Field(inflightAliases...); ok {
		switch {
		case inflight >= 100:
			score += 2
		case inflight >= 50:
			score += 1
		}
	}

	if score > 10 {
		score = 10
	}
	return score
}
