// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package history

import (
	"context"
	"sort"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
)

// Stats aggregates the trailing window of job history: totals by state,
// success rate, queue waits and per-owner runtimes.
func (s *Store) Stats(ctx context.Context, days int) (Stats, error) {
	now := s.clock.Now().UTC()
	start := now.AddDate(0, 0, -days)

	s.mu.Lock()
	var rows []jobRow
	err := s.db.Query(ctx, selectSinceStmt, cutoff{Bound: formatTime(start)}).GetAll(&rows)
	s.mu.Unlock()
	if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return Stats{}, errors.Annotate(err, "querying history window")
	}

	stats := Stats{
		RangeStart:    start,
		RangeEnd:      now,
		Total:         len(rows),
		TotalsByState: make(map[corescheduler.State]int),
	}

	type ownerAccum struct {
		count      int
		states     map[corescheduler.State]int
		runtimes   []float64
		queueWaits []float64
	}
	perOwner := make(map[string]*ownerAccum)
	var queueWaits []float64

	for _, row := range rows {
		state := corescheduler.State(row.State)
		stats.TotalsByState[state]++

		owner := "unknown"
		if row.Owner.Valid && row.Owner.String != "" {
			owner = row.Owner.String
		}
		accum := perOwner[owner]
		if accum == nil {
			accum = &ownerAccum{states: make(map[corescheduler.State]int)}
			perOwner[owner] = accum
		}
		accum.count++
		accum.states[state]++

		leasedAt, hasLeased := parseNullTime(row.LeasedAt)
		finishedAt, hasFinished := parseNullTime(row.FinishedAt)
		if hasLeased && hasFinished {
			accum.runtimes = append(accum.runtimes, finishedAt.Sub(leasedAt).Seconds())
		}
		if hasLeased {
			if createdAt, ok := parseNullTime(nullString(row.CreatedAt)); ok {
				wait := leasedAt.Sub(createdAt).Seconds()
				queueWaits = append(queueWaits, wait)
				accum.queueWaits = append(accum.queueWaits, wait)
			}
		}
	}

	owners := make([]string, 0, len(perOwner))
	for owner := range perOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		accum := perOwner[owner]
		stats.Owners = append(stats.Owners, OwnerStats{
			Owner:            owner,
			Count:            accum.count,
			States:           accum.states,
			AvgRuntimeSecs:   mean(accum.runtimes),
			P95RuntimeSecs:   p95(accum.runtimes),
			AvgQueueWaitSecs: mean(accum.queueWaits),
		})
	}

	completed := stats.TotalsByState[corescheduler.Completed]
	failed := stats.TotalsByState[corescheduler.Failed]
	expired := stats.TotalsByState[corescheduler.Expired]
	if denom := completed + failed + expired; denom > 0 {
		rate := float64(completed) / float64(denom)
		stats.SuccessRate = &rate
	}
	stats.AvgQueueWaitSecs = mean(queueWaits)
	return stats, nil
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}

// p95 returns the 95th percentile by nearest-rank over the sorted values.
func p95(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx > 0 {
		idx--
	}
	v := sorted[idx]
	return &v
}
