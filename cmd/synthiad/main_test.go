// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/danhajduk/SynthiaCore/apiserver"
	"github.com/danhajduk/SynthiaCore/internal/history"
	"github.com/danhajduk/SynthiaCore/internal/scheduler"
)

type wiringSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&wiringSuite{})

type idleRater struct{}

func (idleRater) Rating() int {
	return 0
}

func (s *wiringSuite) TestStatsSourceWithoutStore(c *gc.C) {
	c.Check(statsSource(nil), gc.IsNil)
}

func (s *wiringSuite) TestStatsSourceWithStore(c *gc.C) {
	store, err := history.Open(filepath.Join(c.MkDir(), "history.db"), clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	defer func() { _ = store.Close() }()

	source := statsSource(store)
	c.Check(source, gc.NotNil)
}

func (s *wiringSuite) TestHistoryStatsDisabled(c *gc.C) {
	// A daemon running without a history store must answer the stats
	// endpoint with 501, not a nil dereference.
	engine, err := scheduler.New(scheduler.Config{
		Clock:              clock.WallClock,
		Rater:              idleRater{},
		TotalCapacityUnits: 100,
		ReserveUnits:       5,
		LeaseTTL:           time.Minute,
	})
	c.Assert(err, jc.ErrorIsNil)

	server, err := apiserver.NewServer(apiserver.Config{
		Engine:  engine,
		History: statsSource(nil),
	})
	c.Assert(err, jc.ErrorIsNil)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/scheduler/history/stats", nil))
	c.Check(rec.Code, gc.Equals, http.StatusNotImplemented)
}
