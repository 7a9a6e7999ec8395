// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/danhajduk/SynthiaCore/internal/config"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) writeConfig(c *gc.C, content string) string {
	path := filepath.Join(c.MkDir(), "synthiad.yaml")
	err := os.WriteFile(path, []byte(content), 0o644)
	c.Assert(err, jc.ErrorIsNil)
	return path
}

func (s *configSuite) TestDefaultIsValid(c *gc.C) {
	cfg := config.Default()
	c.Check(cfg.Validate(), jc.ErrorIsNil)
	c.Check(cfg.ListenAddr, gc.Equals, ":8900")
	c.Check(cfg.TotalCapacityUnits, gc.Equals, 100)
	c.Check(cfg.FailClosedBusyRating, gc.Equals, 8)
	c.Check(cfg.LeaseTTL(), gc.Equals, time.Minute)
	c.Check(cfg.ExpiryInterval(), gc.Equals, 2*time.Second)
	c.Check(cfg.APIMetricsWindow(), gc.Equals, time.Minute)
}

func (s *configSuite) TestEmptyPathReturnsDefaults(c *gc.C) {
	cfg, err := config.Load("")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg, jc.DeepEquals, config.Default())
}

func (s *configSuite) TestLoadOverridesDefaults(c *gc.C) {
	path := s.writeConfig(c, `
listen_addr: ":9000"
total_capacity_units: 50
lease_ttl_s: 120
max_active_leases_per_owner: 2
logging_config: "<root>=DEBUG"
`)
	cfg, err := config.Load(path)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(cfg.ListenAddr, gc.Equals, ":9000")
	c.Check(cfg.TotalCapacityUnits, gc.Equals, 50)
	c.Check(cfg.LeaseTTL(), gc.Equals, 2*time.Minute)
	c.Check(cfg.MaxActiveLeasesPerOwner, gc.Equals, 2)
	c.Check(cfg.LoggingConfig, gc.Equals, "<root>=DEBUG")

	// Untouched keys keep their defaults.
	c.Check(cfg.ReserveUnits, gc.Equals, 5)
	c.Check(cfg.HistoryRetentionDays, gc.Equals, 30)
}

func (s *configSuite) TestLoadMissingFile(c *gc.C) {
	_, err := config.Load(filepath.Join(c.MkDir(), "absent.yaml"))
	c.Check(err, gc.ErrorMatches, `reading config .*: .*`)
}

func (s *configSuite) TestLoadBadYAML(c *gc.C) {
	path := s.writeConfig(c, "listen_addr: [")
	_, err := config.Load(path)
	c.Check(err, gc.ErrorMatches, `parsing config .*`)
}

func (s *configSuite) TestLoadRejectsInvalidValues(c *gc.C) {
	path := s.writeConfig(c, "total_capacity_units: -1")
	_, err := config.Load(path)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *configSuite) TestValidate(c *gc.C) {
	for _, mutate := range []func(*config.Config){
		func(cfg *config.Config) { cfg.ListenAddr = "" },
		func(cfg *config.Config) { cfg.TotalCapacityUnits = 0 },
		func(cfg *config.Config) { cfg.ReserveUnits = -1 },
		func(cfg *config.Config) { cfg.HeadroomPct = 1 },
		func(cfg *config.Config) { cfg.LeaseTTLSecs = 0 },
		func(cfg *config.Config) { cfg.HeartbeatGraceSecs = -1 },
		func(cfg *config.Config) { cfg.ExpiryIntervalSecs = 0 },
		func(cfg *config.Config) { cfg.FailClosedBusyRating = 11 },
		func(cfg *config.Config) { cfg.MaxActiveLeases = -1 },
		func(cfg *config.Config) { cfg.HistoryRetentionDays = 0 },
		func(cfg *config.Config) { cfg.APIMetricsWindowSecs = 0 },
	} {
		cfg := config.Default()
		mutate(&cfg)
		c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)
	}
}
