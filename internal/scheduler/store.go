// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package scheduler

import (
	"github.com/juju/collections/deque"
	"github.com/juju/collections/set"

	"github.com/danhajduk/SynthiaCore/core/scheduler"
)

// store is the in-memory authoritative scheduler state: the job and lease
// maps, the idempotency index, the four priority buckets and the dedup set
// of currently-queued job ids.
//
// The store performs no locking of its own. Every mutation happens under
// the engine mutex.
type store struct {
	jobs   map[string]*scheduler.Job
	leases map[string]*scheduler.Lease

	// idempotency maps idempotency key -> job id for live jobs.
	idempotency map[string]string

	// queued guards against double-enqueue, including across
	// requeue-on-miss.
	queued set.Strings

	buckets map[scheduler.Priority]*deque.Deque
}

func newStore() *store {
	buckets := make(map[scheduler.Priority]*deque.Deque, len(scheduler.Priorities))
	for _, p := range scheduler.Priorities {
		buckets[p] = deque.New()
	}
	return &store{
		jobs:        make(map[string]*scheduler.Job),
		leases:      make(map[string]*scheduler.Lease),
		idempotency: make(map[string]string),
		queued:      set.NewStrings(),
		buckets:     buckets,
	}
}

// enqueue appends the job to the tail of its priority bucket. It is a
// no-op if the job is already queued.
func (s *store) enqueue(job *scheduler.Job) {
	if s.queued.Contains(job.ID) {
		return
	}
	s.queued.Add(job.ID)
	s.buckets[job.Priority].PushBack(job.ID)
}

// dequeueNext pops the oldest job id from the highest non-empty priority
// bucket.
func (s *store) dequeueNext() (string, bool) {
	for _, p := range scheduler.Priorities {
		if v, ok := s.buckets[p].PopFront(); ok {
			id := v.(string)
			s.queued.Remove(id)
			return id, true
		}
	}
	return "", false
}

// queueDepths reports the size of each priority bucket.
func (s *store) queueDepths() map[scheduler.Priority]int {
	depths := make(map[scheduler.Priority]int, len(s.buckets))
	for p, b := range s.buckets {
		depths[p] = b.Len()
	}
	return depths
}

// queuedCount is the total number of queued job ids across all buckets.
func (s *store) queuedCount() int {
	n := 0
	for _, b := range s.buckets {
		n += b.Len()
	}
	return n
}

// leasedUnits sums the capacity units reserved by live leases.
func (s *store) leasedUnits() int {
	units := 0
	for _, l := range s.leases {
		units += l.CapacityUnits
	}
	return units
}
