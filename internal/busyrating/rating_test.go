// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package busyrating_test

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/danhajduk/SynthiaCore/core/metrics"
	"github.com/danhajduk/SynthiaCore/internal/busyrating"
)

type ratingSuite struct {
	testing.IsolationSuite

	clock *testclock.Clock
	host  *metrics.Sample
	api   *metrics.Sample
}

var _ = gc.Suite(&ratingSuite{})

func (s *ratingSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s.host = nil
	s.api = nil
}

func (s *ratingSuite) evaluator(c *gc.C, failClosed int) *busyrating.Evaluator {
	eval, err := busyrating.NewEvaluator(busyrating.Config{
		Clock: s.clock,
		Provider: metrics.ProviderFunc(func() (*metrics.Sample, *metrics.Sample) {
			return s.host, s.api
		}),
		FailClosedRating: failClosed,
	})
	c.Assert(err, jc.ErrorIsNil)
	return eval
}

func (s *ratingSuite) hostSample(fields map[string]float64) *metrics.Sample {
	return &metrics.Sample{CollectedAt: s.clock.Now(), Fields: fields}
}

func (s *ratingSuite) TestValidateNilClock(c *gc.C) {
	_, err := busyrating.NewEvaluator(busyrating.Config{
		Provider: metrics.ProviderFunc(func() (*metrics.Sample, *metrics.Sample) { return nil, nil }),
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *ratingSuite) TestValidateNilProvider(c *gc.C) {
	_, err := busyrating.NewEvaluator(busyrating.Config{Clock: s.clock})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *ratingSuite) TestFailClosedWhenNoMetrics(c *gc.C) {
	c.Check(s.evaluator(c, busyrating.DefaultFailClosedRating).Rating(), gc.Equals, busyrating.DefaultFailClosedRating)
	c.Check(s.evaluator(c, 10).Rating(), gc.Equals, 10)
}

func (s *ratingSuite) TestZeroFailClosedRatingHonored(c *gc.C) {
	// Zero is a deliberate configuration, not an unset marker: missing
	// metrics then report idle instead of throttling.
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 0)
}

func (s *ratingSuite) TestIdleHostScoresZero(c *gc.C) {
	s.host = s.hostSample(map[string]float64{"cpu_percent": 10, "mem_percent": 20})
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 0)
}

func (s *ratingSuite) TestCPUThresholds(c *gc.C) {
	for cpu, want := range map[float64]int{
		49: 0, 50: 1, 70: 2, 85: 3, 95: 4, 100: 4,
	} {
		s.host = s.hostSample(map[string]float64{"cpu_percent": cpu})
		c.Check(s.evaluator(c, 0).Rating(), gc.Equals, want, gc.Commentf("cpu %v", cpu))
	}
}

func (s *ratingSuite) TestMemoryThresholds(c *gc.C) {
	for mem, want := range map[float64]int{
		69: 0, 70: 1, 85: 2, 95: 3,
	} {
		s.host = s.hostSample(map[string]float64{"mem_percent": mem})
		c.Check(s.evaluator(c, 0).Rating(), gc.Equals, want, gc.Commentf("mem %v", mem))
	}
}

func (s *ratingSuite) TestAPILatencyThresholds(c *gc.C) {
	for p95, want := range map[float64]int{
		399: 0, 400: 1, 800: 2, 1500: 3,
	} {
		s.api = &metrics.Sample{Fields: map[string]float64{"p95_ms": p95}}
		c.Check(s.evaluator(c, 0).Rating(), gc.Equals, want, gc.Commentf("p95 %v", p95))
	}
}

func (s *ratingSuite) TestErrorRateNormalizedFromPercent(c *gc.C) {
	// 12 is read as 12%, i.e. a 0.12 fraction.
	s.api = &metrics.Sample{Fields: map[string]float64{"error_rate": 12}}
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 3)

	s.api = &metrics.Sample{Fields: map[string]float64{"error_rate": 0.05}}
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 2)

	s.api = &metrics.Sample{Fields: map[string]float64{"error_rate": 0.01}}
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 1)
}

func (s *ratingSuite) TestInflightThresholds(c *gc.C) {
	for inflight, want := range map[float64]int{
		49: 0, 50: 1, 100: 2,
	} {
		s.api = &metrics.Sample{Fields: map[string]float64{"inflight": inflight}}
		c.Check(s.evaluator(c, 0).Rating(), gc.Equals, want, gc.Commentf("inflight %v", inflight))
	}
}

func (s *ratingSuite) TestScoreClampedToTen(c *gc.C) {
	s.host = s.hostSample(map[string]float64{"cpu_percent": 99, "mem_percent": 99})
	s.api = &metrics.Sample{Fields: map[string]float64{
		"p95_ms": 2000, "error_rate": 0.5, "inflight": 200,
	}}
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 10)
}

func (s *ratingSuite) TestFieldAliases(c *gc.C) {
	s.host = s.hostSample(map[string]float64{"cpu": 96, "ram_pct": 96})
	s.api = &metrics.Sample{Fields: map[string]float64{
		"latency_p95_ms": 1600, "err_rate": 0.2, "active_requests": 150,
	}}
	// 4 + 3 + 3 + 3 + 2, clamped.
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 10)
}

func (s *ratingSuite) TestStaleHostSampleTreatedAsAbsent(c *gc.C) {
	s.host = s.hostSample(map[string]float64{"cpu_percent": 99})
	s.clock.Advance(31 * time.Second)
	c.Check(s.evaluator(c, busyrating.DefaultFailClosedRating).Rating(), gc.Equals, busyrating.DefaultFailClosedRating)
}

func (s *ratingSuite) TestStaleHostSampleIgnoredWhenAPIFresh(c *gc.C) {
	s.host = s.hostSample(map[string]float64{"cpu_percent": 99})
	s.api = &metrics.Sample{Fields: map[string]float64{"p95_ms": 450}}
	s.clock.Advance(31 * time.Second)
	// The stale CPU signal must not contribute; only the API does.
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 1)
}

func (s *ratingSuite) TestHostSampleWithoutTimestampNeverStale(c *gc.C) {
	s.host = &metrics.Sample{Fields: map[string]float64{"cpu_percent": 99}}
	s.clock.Advance(24 * time.Hour)
	c.Check(s.evaluator(c, 0).Rating(), gc.Equals, 4)
}
