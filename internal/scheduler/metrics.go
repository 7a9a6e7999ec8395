// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "synthiacore"

// Collector exposes the engine's snapshot as prometheus gauges. Register
// it with the process registry; each scrape takes one engine snapshot.
type Collector struct {
	engine *Engine

	busyRating   *prometheus.Desc
	totalUnits   *prometheus.Desc
	usableUnits  *prometheus.Desc
	leasedUnits  *prometheus.Desc
	availUnits   *prometheus.Desc
	queueDepth   *prometheus.Desc
	activeLeases *prometheus.Desc
}

// NewCollector returns a Collector reading from the given engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		busyRating: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "busy_rating"),
			"Current busy rating in [0, 10].", nil, nil),
		totalUnits: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "total_capacity_units"),
			"Configured base capacity units.", nil, nil),
		usableUnits: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "usable_capacity_units"),
			"Capacity units usable at the current busy rating.", nil, nil),
		leasedUnits: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "leased_capacity_units"),
			"Capacity units reserved by active leases.", nil, nil),
		availUnits: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "available_capacity_units"),
			"Capacity units currently available for new leases.", nil, nil),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "queue_depth"),
			"Queued jobs per priority bucket.", []string{"priority"}, nil),
		activeLeases: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "scheduler", "active_leases"),
			"Number of active leases.", nil, nil),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.busyRating
	ch <- c.totalUnits
	ch <- c.usableUnits
	ch <- c.leasedUnits
	ch <- c.availUnits
	ch <- c.queueDepth
	ch <- c.activeLeases
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.engine.Snapshot(context.Background())

	ch <- prometheus.MustNewConstMetric(c.busyRating, prometheus.GaugeValue, float64(snap.BusyRating))
	ch <- prometheus.MustNewConstMetric(c.totalUnits, prometheus.GaugeValue, float64(snap.TotalCapacityUnits))
	ch <- prometheus.MustNewConstMetric(c.usableUnits, prometheus.GaugeValue, float64(snap.UsableCapacityUnits))
	ch <- prometheus.MustNewConstMetric(c.leasedUnits, prometheus.GaugeValue, float64(snap.LeasedCapacityUnits))
	ch <- prometheus.MustNewConstMetric(c.availUnits, prometheus.GaugeValue, float64(snap.AvailableCapacityUnits))
	ch <- prometheus.MustNewConstMetric(c.activeLeases, prometheus.GaugeValue, float64(snap.ActiveLeases))
	for priority, depth := range snap.QueueDepths {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth), string(priority))
	}
}
