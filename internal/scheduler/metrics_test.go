// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler_test

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
	"github.com/danhajduk/SynthiaCore/internal/scheduler"
)

type metricsSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&metricsSuite{})

func (s *metricsSuite) TestCollect(c *gc.C) {
	clk := testclock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine, err := scheduler.New(scheduler.Config{
		Clock:              clk,
		Rater:              &fakeRater{},
		TotalCapacityUnits: 100,
		ReserveUnits:       5,
		LeaseTTL:           time.Minute,
	})
	c.Assert(err, jc.ErrorIsNil)

	_, err = engine.Submit(context.Background(), scheduler.SubmitRequest{RequestedUnits: 10})
	c.Assert(err, jc.ErrorIsNil)
	_, err = engine.Submit(context.Background(), scheduler.SubmitRequest{
		Priority:       corescheduler.High,
		RequestedUnits: 2,
	})
	c.Assert(err, jc.ErrorIsNil)
	outcome, err := engine.RequestLease(context.Background(), "w1", 0)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(outcome.Granted, gc.NotNil)

	collector := scheduler.NewCollector(engine)
	expected := `
# HELP synthiacore_scheduler_active_leases Number of active leases.
# TYPE synthiacore_scheduler_active_leases gauge
synthiacore_scheduler_active_leases 1
# HELP synthiacore_scheduler_available_capacity_units Capacity units currently available for new leases.
# TYPE synthiacore_scheduler_available_capacity_units gauge
synthiacore_scheduler_available_capacity_units 93
# HELP synthiacore_scheduler_busy_rating Current busy rating in [0, 10].
# TYPE synthiacore_scheduler_busy_rating gauge
synthiacore_scheduler_busy_rating 0
# HELP synthiacore_scheduler_leased_capacity_units Capacity units reserved by active leases.
# TYPE synthiacore_scheduler_leased_capacity_units gauge
synthiacore_scheduler_leased_capacity_units 2
# HELP synthiacore_scheduler_queue_depth Queued jobs per priority bucket.
# TYPE synthiacore_scheduler_queue_depth gauge
synthiacore_scheduler_queue_depth{priority="background"} 0
synthiacore_scheduler_queue_depth{priority="high"} 0
synthiacore_scheduler_queue_depth{priority="low"} 0
synthiacore_scheduler_queue_depth{priority="normal"} 1
# HELP synthiacore_scheduler_total_capacity_units Configured base capacity units.
# TYPE synthiacore_scheduler_total_capacity_units gauge
synthiacore_scheduler_total_capacity_units 100
# HELP synthiacore_scheduler_usable_capacity_units Capacity units usable at the current busy rating.
# TYPE synthiacore_scheduler_usable_capacity_units gauge
synthiacore_scheduler_usable_capacity_units 95
`
	err = testutil.CollectAndCompare(collector, strings.NewReader(expected))
	c.Check(err, jc.ErrorIsNil)
}
