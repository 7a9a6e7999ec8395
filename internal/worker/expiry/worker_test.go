// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package expiry_test

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/danhajduk/SynthiaCore/internal/worker/expiry"
)

const (
	longWait  = 10 * time.Second
	shortWait = 50 * time.Millisecond
)

type fakeTicker struct {
	mu     sync.Mutex
	calls  int
	ticked chan struct{}
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ticked: make(chan struct{}, 16)}
}

func (t *fakeTicker) ExpireTick(ctx context.Context) int {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	t.ticked <- struct{}{}
	return 1
}

func (t *fakeTicker) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type workerSuite struct {
	testing.IsolationSuite

	clock  *testclock.Clock
	ticker *fakeTicker
}

var _ = gc.Suite(&workerSuite{})

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Time{})
	s.ticker = newFakeTicker()
}

func (s *workerSuite) newWorker(c *gc.C) *expiry.Worker {
	w, err := expiry.NewWorker(expiry.Config{
		Clock:    s.clock,
		Ticker:   s.ticker,
		Interval: time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) {
		workertest.CleanKill(c, w)
	})
	return w
}

func (s *workerSuite) waitTick(c *gc.C) {
	select {
	case <-s.ticker.ticked:
	case <-time.After(longWait):
		c.Fatalf("timed out waiting for expiry tick")
	}
}

func (s *workerSuite) TestValidate(c *gc.C) {
	_, err := expiry.NewWorker(expiry.Config{Ticker: s.ticker})
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = expiry.NewWorker(expiry.Config{Clock: s.clock})
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = expiry.NewWorker(expiry.Config{
		Clock:    s.clock,
		Ticker:   s.ticker,
		Interval: -time.Second,
	})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *workerSuite) TestTicksOnInterval(c *gc.C) {
	s.newWorker(c)

	err := s.clock.WaitAdvance(time.Second, longWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	s.waitTick(c)

	err = s.clock.WaitAdvance(time.Second, longWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	s.waitTick(c)

	c.Check(s.ticker.callCount(), gc.Equals, 2)
}

func (s *workerSuite) TestNoTickBeforeInterval(c *gc.C) {
	s.newWorker(c)

	err := s.clock.WaitAdvance(500*time.Millisecond, longWait, 1)
	c.Assert(err, jc.ErrorIsNil)

	select {
	case <-s.ticker.ticked:
		c.Fatalf("ticked before the interval elapsed")
	case <-time.After(shortWait):
	}
}

func (s *workerSuite) TestCleanKill(c *gc.C) {
	w := s.newWorker(c)
	workertest.CheckAlive(c, w)
}

func (s *workerSuite) TestNoTicksAfterKill(c *gc.C) {
	w, err := expiry.NewWorker(expiry.Config{
		Clock:    s.clock,
		Ticker:   s.ticker,
		Interval: time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	workertest.CleanKill(c, w)

	s.clock.Advance(5 * time.Second)
	select {
	case <-s.ticker.ticked:
		c.Fatalf("ticked after kill")
	case <-time.After(shortWait):
	}
	c.Check(s.ticker.callCount(), gc.Equals, 0)
}
