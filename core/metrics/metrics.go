// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics defines the snapshot types handed to the busy-rating
// evaluator. Producers publish loosely-named numeric fields; consumers look
// them up through a small alias table so the scheduler stays decoupled from
// any particular collector schema.
package metrics

import "time"

// Sample is one materialized metrics observation. Fields are keyed by
// whatever names the producing collector uses; CollectedAt is zero when the
// producer does not track capture time.
type Sample struct {
	CollectedAt time.Time
	Fields      map[string]float64
}

// Field returns the first present field among the given names.
func (s *Sample) Field(names ...string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	for _, name := range names {
		if v, ok := s.Fields[name]; ok {
			return v, true
		}
	}
	return 0, false
}

// Provider supplies the engine with the latest host and API-layer samples.
// Either return value may be nil when that side has nothing to report.
// Implementations must be safe for concurrent use and must not block; the
// evaluator calls them while the engine lock is held.
type Provider interface {
	Metrics() (host *Sample, api *Sample)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() (host *Sample, api *Sample)

// Metrics implements Provider.
func (f ProviderFunc) Metrics() (*Sample, *Sample) {
	return f()
}
