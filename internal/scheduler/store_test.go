// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	gc "gopkg.in/check.v1"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
)

type storeSuite struct{}

var _ = gc.Suite(&storeSuite{})

func queuedJob(id string, priority corescheduler.Priority) *corescheduler.Job {
	return &corescheduler.Job{
		ID:       id,
		Priority: priority,
		State:    corescheduler.Queued,
	}
}

func (s *storeSuite) TestDequeueStrictPriorityOrder(c *gc.C) {
	st := newStore()
	st.enqueue(queuedJob("bg", corescheduler.Background))
	st.enqueue(queuedJob("low", corescheduler.Low))
	st.enqueue(queuedJob("normal", corescheduler.Normal))
	st.enqueue(queuedJob("high", corescheduler.High))

	var order []string
	for {
		id, ok := st.dequeueNext()
		if !ok {
			break
		}
		order = append(order, id)
	}
	c.Check(order, gc.DeepEquals, []string{"high", "normal", "low", "bg"})
}

func (s *storeSuite) TestDequeueOldestFirstWithinPriority(c *gc.C) {
	st := newStore()
	st.enqueue(queuedJob("first", corescheduler.Normal))
	st.enqueue(queuedJob("second", corescheduler.Normal))

	id, ok := st.dequeueNext()
	c.Assert(ok, gc.Equals, true)
	c.Check(id, gc.Equals, "first")
}

func (s *storeSuite) TestEnqueueIsIdempotent(c *gc.C) {
	st := newStore()
	job := queuedJob("dup", corescheduler.Normal)
	st.enqueue(job)
	st.enqueue(job)
	c.Check(st.queuedCount(), gc.Equals, 1)

	_, ok := st.dequeueNext()
	c.Assert(ok, gc.Equals, true)
	_, ok = st.dequeueNext()
	c.Check(ok, gc.Equals, false)
}

func (s *storeSuite) TestDequeueRemovesFromDedupSet(c *gc.C) {
	st := newStore()
	job := queuedJob("again", corescheduler.High)
	st.enqueue(job)
	_, ok := st.dequeueNext()
	c.Assert(ok, gc.Equals, true)

	// Requeue-on-miss must be possible after a pop.
	st.enqueue(job)
	c.Check(st.queuedCount(), gc.Equals, 1)
}

func (s *storeSuite) TestQueueDepths(c *gc.C) {
	st := newStore()
	st.enqueue(queuedJob("a", corescheduler.High))
	st.enqueue(queuedJob("b", corescheduler.Normal))
	st.enqueue(queuedJob("c", corescheduler.Normal))

	c.Check(st.queueDepths(), gc.DeepEquals, map[corescheduler.Priority]int{
		corescheduler.High:       1,
		corescheduler.Normal:     2,
		corescheduler.Low:        0,
		corescheduler.Background: 0,
	})
	c.Check(st.queuedCount(), gc.Equals, 3)
}

func (s *storeSuite) TestLeasedUnits(c *gc.C) {
	st := newStore()
	c.Check(st.leasedUnits(), gc.Equals, 0)
	st.leases["l1"] = &corescheduler.Lease{ID: "l1", CapacityUnits: 10}
	st.leases["l2"] = &corescheduler.Lease{ID: "l2", CapacityUnits: 7}
	c.Check(st.leasedUnits(), gc.Equals, 17)
}
