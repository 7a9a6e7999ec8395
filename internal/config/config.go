// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config loads the daemon's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. Durations are given in seconds in
// the file, mirroring the engine's knobs.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// HistoryPath is the SQLite file holding job history. Empty disables
	// the history sink.
	HistoryPath string `yaml:"history_path"`

	TotalCapacityUnits int     `yaml:"total_capacity_units"`
	ReserveUnits       int     `yaml:"reserve_units"`
	HeadroomPct        float64 `yaml:"headroom_pct"`

	LeaseTTLSecs         int `yaml:"lease_ttl_s"`
	HeartbeatGraceSecs   int `yaml:"heartbeat_grace_s"`
	ExpiryIntervalSecs   int `yaml:"expiry_interval_s"`
	FailClosedBusyRating int `yaml:"failclosed_busy_default"`

	// Zero means no cap.
	MaxActiveLeases         int `yaml:"max_active_leases"`
	MaxActiveLeasesPerOwner int `yaml:"max_active_leases_per_owner"`

	HistoryRetentionDays int `yaml:"history_retention_days"`
	APIMetricsWindowSecs int `yaml:"api_metrics_window_s"`

	// LoggingConfig is a loggo specification, e.g.
	// "<root>=INFO;synthiacore.scheduler=DEBUG".
	LoggingConfig string `yaml:"logging_config"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddr:           ":8900",
		HistoryPath:          "data/scheduler_history.db",
		TotalCapacityUnits:   100,
		ReserveUnits:         5,
		HeadroomPct:          0.05,
		LeaseTTLSecs:         60,
		HeartbeatGraceSecs:   0,
		ExpiryIntervalSecs:   2,
		FailClosedBusyRating: 8,
		HistoryRetentionDays: 30,
		APIMetricsWindowSecs: 60,
		LoggingConfig:        "<root>=INFO",
	}
}

// Load reads the file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate returns an error for values the engine would reject.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.NotValidf("empty listen_addr")
	}
	if c.TotalCapacityUnits <= 0 {
		return errors.NotValidf("total_capacity_units %d", c.TotalCapacityUnits)
	}
	if c.ReserveUnits < 0 {
		return errors.NotValidf("reserve_units %d", c.ReserveUnits)
	}
	if c.HeadroomPct < 0 || c.HeadroomPct >= 1 {
		return errors.NotValidf("headroom_pct %v", c.HeadroomPct)
	}
	if c.LeaseTTLSecs <= 0 {
		return errors.NotValidf("lease_ttl_s %d", c.LeaseTTLSecs)
	}
	if c.HeartbeatGraceSecs < 0 {
		return errors.NotValidf("heartbeat_grace_s %d", c.HeartbeatGraceSecs)
	}
	if c.ExpiryIntervalSecs <= 0 {
		return errors.NotValidf("expiry_interval_s %d", c.ExpiryIntervalSecs)
	}
	if c.FailClosedBusyRating < 0 || c.FailClosedBusyRating > 10 {
		return errors.NotValidf("failclosed_busy_default %d", c.FailClosedBusyRating)
	}
	if c.MaxActiveLeases < 0 {
		return errors.NotValidf("max_active_leases %d", c.MaxActiveLeases)
	}
	if c.MaxActiveLeasesPerOwner < 0 {
		return errors.NotValidf("max_active_leases_per_owner %d", c.MaxActiveLeasesPerOwner)
	}
	if c.HistoryRetentionDays <= 0 {
		return errors.NotValidf("history_retention_days %d", c.HistoryRetentionDays)
	}
	if c.APIMetricsWindowSecs <= 0 {
		return errors.NotValidf("api_metrics_window_s %d", c.APIMetricsWindowSecs)
	}
	return nil
}

// LeaseTTL returns the lease TTL as a duration.
func (c Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSecs) * time.Second
}

// HeartbeatGrace returns the heartbeat grace as a duration.
func (c Config) HeartbeatGrace() time.Duration {
	return time.Duration(c.HeartbeatGraceSecs) * time.Second
}

// ExpiryInterval returns the expiry tick cadence as a duration.
func (c Config) ExpiryInterval() time.Duration {
	return time.Duration(c.ExpiryIntervalSecs) * time.Second
}

// APIMetricsWindow returns the API metrics window as a duration.
func (c Config) APIMetricsWindow() time.Duration {
	return time.Duration(c.APIMetricsWindowSecs) * time.Second
}
