// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package scheduler implements the admission-controlled scheduling engine:
// priority queueing, busy-rating capacity gating and the lease lifecycle
// (grant, heartbeat, expiry, completion).
//
// The engine is a single-threaded cooperative mutator of shared state.
// Callers serialize on one mutex; nothing inside a critical section blocks
// on I/O. History writes happen after the lock is released, using values
// captured inside it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
)

var logger = loggo.GetLogger("synthiacore.scheduler")

const (
	// defaultRetryAfter is the retry hint attached to ordinary denials.
	defaultRetryAfter = 1500 * time.Millisecond

	// capacityRetryAfter is the retry hint attached to denials caused by
	// capacity exhaustion or lease ceilings.
	capacityRetryAfter = 2 * time.Second
)

// BusyRater reports the current busy rating in [0, 10]. Implementations
// must only read already-materialized snapshots: the engine calls Rating
// while holding its lock.
type BusyRater interface {
	Rating() int
}

// ExpiredLease pairs a reclaimed lease with its job as captured at expiry
// time, for out-of-lock history writing.
type ExpiredLease struct {
	Lease corescheduler.Lease
	Job   corescheduler.Job
}

// HistorySink receives terminal outcomes and lease transitions. Sink
// failures are logged and never roll back engine state; history is
// advisory.
type HistorySink interface {
	// RecordLease writes or updates the job's history row at grant time.
	RecordLease(ctx context.Context, job corescheduler.Job, lease corescheduler.Lease) error

	// UpdateState upserts the row with the job's latest state. finishedAt
	// is zero for non-terminal transitions.
	UpdateState(ctx context.Context, job corescheduler.Job, lease *corescheduler.Lease, finishedAt time.Time) error

	// RecordExpired bulk-writes terminal rows for expired leases.
	RecordExpired(ctx context.Context, expired []ExpiredLease) error
}

// Config holds an Engine's dependencies and tuning.
type Config struct {
	// Clock supplies all engine timestamps.
	Clock clock.Clock

	// Rater maps the latest metrics to a busy rating.
	Rater BusyRater

	// History records terminal outcomes. Optional.
	History HistorySink

	// TotalCapacityUnits is the base capacity at busy rating 0.
	TotalCapacityUnits int

	// ReserveUnits is subtracted from usable capacity at every rating.
	ReserveUnits int

	// HeadroomPct in [0, 1) shaves usable capacity after the busy curve.
	HeadroomPct float64

	// LeaseTTL is how long a lease lives past its last heartbeat.
	LeaseTTL time.Duration

	// HeartbeatGrace is extra slack added to ExpiresAt on issue and on
	// every heartbeat.
	HeartbeatGrace time.Duration

	// MaxActiveLeases caps concurrent leases. Zero means no cap.
	MaxActiveLeases int

	// MaxActiveLeasesPerOwner caps concurrent leases per owner tag.
	// Zero means no cap.
	MaxActiveLeasesPerOwner int
}

// Validate returns an error if the config cannot back an Engine.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Rater == nil {
		return errors.NotValidf("nil Rater")
	}
	if config.TotalCapacityUnits <= 0 {
		return errors.NotValidf("total capacity %d", config.TotalCapacityUnits)
	}
	if config.ReserveUnits < 0 {
		return errors.NotValidf("reserve units %d", config.ReserveUnits)
	}
	if config.HeadroomPct < 0 || config.HeadroomPct >= 1 {
		return errors.NotValidf("headroom %v", config.HeadroomPct)
	}
	if config.LeaseTTL <= 0 {
		return errors.NotValidf("lease TTL %v", config.LeaseTTL)
	}
	if config.HeartbeatGrace < 0 {
		return errors.NotValidf("heartbeat grace %v", config.HeartbeatGrace)
	}
	if config.MaxActiveLeases < 0 {
		return errors.NotValidf("max active leases %d", config.MaxActiveLeases)
	}
	if config.MaxActiveLeasesPerOwner < 0 {
		return errors.NotValidf("max active leases per owner %d", config.MaxActiveLeasesPerOwner)
	}
	return nil
}

// SubmitRequest describes one job to submit.
type SubmitRequest struct {
	Type           string
	Priority       corescheduler.Priority
	RequestedUnits int
	Payload        map[string]any
	IdempotencyKey string
	Tags           []string
	Unique         bool
}

// Engine is the single coordination point for scheduling. Construct one at
// process start and thread it to all callers.
type Engine struct {
	config Config

	mu    sync.Mutex
	store *store
}

// New returns an Engine using the supplied config.
func New(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Engine{
		config: config,
		store:  newStore(),
	}, nil
}

// Submit inserts a job and enqueues it. When the request carries an
// idempotency key already mapped to a live job, that job is returned
// unchanged and nothing is enqueued.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (corescheduler.Job, error) {
	priority, err := corescheduler.ParsePriority(string(req.Priority))
	if err != nil {
		return corescheduler.Job{}, errors.Trace(err)
	}
	jobType := req.Type
	if jobType == "" {
		jobType = "generic"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := e.store.idempotency[req.IdempotencyKey]; ok {
			if existing, ok := e.store.jobs[id]; ok {
				return *existing, nil
			}
		}
	}

	now := e.config.Clock.Now()
	job := &corescheduler.Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		Priority:       priority,
		RequestedUnits: req.RequestedUnits,
		State:          corescheduler.Queued,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Tags:           req.Tags,
		Unique:         req.Unique,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	e.store.jobs[job.ID] = job
	if job.IdempotencyKey != "" {
		e.store.idempotency[job.IdempotencyKey] = job.ID
	}
	e.store.enqueue(job)
	return *job, nil
}

// RequestLease finds the next queued job that fits the currently available
// capacity and grants a lease on it to the worker. Denials are normal flow
// and carry a retry hint; an error is returned only for invalid input.
func (e *Engine) RequestLease(ctx context.Context, workerID string, maxUnits int) (corescheduler.LeaseOutcome, error) {
	if workerID == "" {
		return corescheduler.LeaseOutcome{}, errors.NotValidf("empty worker id")
	}

	e.mu.Lock()
	outcome, expired, failed, granted := e.requestLeaseLocked(workerID, maxUnits)
	e.mu.Unlock()

	e.recordExpired(ctx, expired)
	for _, job := range failed {
		e.recordTerminal(ctx, job, nil, job.UpdatedAt)
	}
	if granted != nil {
		e.recordLease(ctx, granted.Job, granted.Lease)
	}
	return outcome, nil
}

// requestLeaseLocked holds the admission algorithm proper. It returns the
// outcome together with everything the caller must flush to history after
// unlocking: expired leases, jobs failed for zero cost, and the grant.
func (e *Engine) requestLeaseLocked(workerID string, maxUnits int) (
	outcome corescheduler.LeaseOutcome,
	expired []ExpiredLease,
	failed []corescheduler.Job,
	granted *corescheduler.Grant,
) {
	// Expire first so capacity reflects reclamation.
	expired = e.expireLocked()

	denied := func(reason string, retryAfter time.Duration) corescheduler.LeaseOutcome {
		return corescheduler.LeaseOutcome{
			Denied: &corescheduler.Denial{Reason: reason, RetryAfter: retryAfter},
		}
	}

	if limit := e.config.MaxActiveLeases; limit > 0 && len(e.store.leases) >= limit {
		outcome = denied(fmt.Sprintf("active lease limit reached (%d)", limit), capacityRetryAfter)
		return
	}

	busy := e.config.Rater.Rating()
	usable := usableUnits(e.config.TotalCapacityUnits, e.config.ReserveUnits, e.config.HeadroomPct, busy)
	leased := e.store.leasedUnits()
	available := usable - leased
	if available <= 0 {
		outcome = denied(fmt.Sprintf("no capacity (busy=%d, usable=%d, leased=%d)", busy, usable, leased), capacityRetryAfter)
		return
	}

	workerHasLease := false
	for _, l := range e.store.leases {
		if l.WorkerID == workerID {
			workerHasLease = true
			break
		}
	}
	var ownerCounts map[string]int
	if e.config.MaxActiveLeasesPerOwner > 0 {
		ownerCounts = make(map[string]int)
		for _, l := range e.store.leases {
			if job, ok := e.store.jobs[l.JobID]; ok {
				if owner := job.Owner(); owner != "" {
					ownerCounts[owner]++
				}
			}
		}
	}

	// Scan at most one full pass over the queues. Skipped jobs re-queue at
	// the tail of their own priority, so fitting jobs overtake them.
	maxScan := e.store.queuedCount()
	for scanned := 0; scanned < maxScan; scanned++ {
		jobID, ok := e.store.dequeueNext()
		if !ok {
			outcome = denied("no queued jobs", defaultRetryAfter)
			return
		}
		job, ok := e.store.jobs[jobID]
		if !ok || job.State != corescheduler.Queued {
			continue
		}

		if job.Unique && workerHasLease {
			e.store.enqueue(job)
			continue
		}
		if limit := e.config.MaxActiveLeasesPerOwner; limit > 0 {
			if owner := job.Owner(); owner != "" && ownerCounts[owner] >= limit {
				e.store.enqueue(job)
				continue
			}
		}

		need := job.RequestedUnits
		if need <= 0 {
			job.State = corescheduler.Failed
			job.UpdatedAt = e.config.Clock.Now()
			failed = append(failed, *job)
			continue
		}
		if maxUnits > 0 && maxUnits < need {
			need = maxUnits
		}

		if need > available {
			// No partial allocation; head-of-line goes to the tail so
			// smaller jobs can overtake it.
			e.store.enqueue(job)
			outcome = denied(fmt.Sprintf("next job needs %du but only %du available", job.RequestedUnits, available), capacityRetryAfter)
			return
		}

		now := e.config.Clock.Now()
		lease := &corescheduler.Lease{
			ID:            uuid.NewString(),
			JobID:         job.ID,
			WorkerID:      workerID,
			CapacityUnits: need,
			IssuedAt:      now,
			LastHeartbeat: now,
			ExpiresAt:     now.Add(e.config.LeaseTTL + e.config.HeartbeatGrace),
		}
		job.State = corescheduler.Leased
		job.LeaseID = lease.ID
		job.UpdatedAt = now
		e.store.leases[lease.ID] = lease

		logger.Debugf("granted lease %s on job %s to worker %s (%du)", lease.ID, job.ID, workerID, need)
		granted = &corescheduler.Grant{Lease: *lease, Job: *job}
		outcome = corescheduler.LeaseOutcome{Granted: granted}
		return
	}

	outcome = denied("no eligible job found", defaultRetryAfter)
	return
}

// Heartbeat extends the lease's expiry. The first heartbeat moves the job
// from leased to running. Returns NotFound for an unknown lease and
// Unauthorized when the worker does not hold it.
func (e *Engine) Heartbeat(ctx context.Context, leaseID, workerID string) (corescheduler.Lease, error) {
	e.mu.Lock()
	lease, started, expired, err := e.heartbeatLocked(leaseID, workerID)
	e.mu.Unlock()

	e.recordExpired(ctx, expired)
	if err != nil {
		return corescheduler.Lease{}, errors.Trace(err)
	}
	if started != nil {
		e.recordTerminal(ctx, *started, &lease, time.Time{})
	}
	return lease, nil
}

func (e *Engine) heartbeatLocked(leaseID, workerID string) (
	lease corescheduler.Lease,
	started *corescheduler.Job,
	expired []ExpiredLease,
	err error,
) {
	expired = e.expireLocked()

	l, ok := e.store.leases[leaseID]
	if !ok {
		err = errors.NotFoundf("lease %q", leaseID)
		return
	}
	if l.WorkerID != workerID {
		err = errors.Unauthorizedf("lease %q is not held by worker %q", leaseID, workerID)
		return
	}

	now := e.config.Clock.Now()
	l.LastHeartbeat = now
	l.ExpiresAt = now.Add(e.config.LeaseTTL + e.config.HeartbeatGrace)

	if job, ok := e.store.jobs[l.JobID]; ok {
		if job.State == corescheduler.Leased {
			// First heartbeat implies the worker has started.
			job.State = corescheduler.Running
			job.UpdatedAt = now
			started = &corescheduler.Job{}
			*started = *job
		} else if job.State == corescheduler.Running {
			job.UpdatedAt = now
		}
	}
	lease = *l
	return
}

// Complete finalizes a job in the requested terminal state and releases
// its capacity. Completing an already-absent lease succeeds, preserving
// at-least-once semantics for workers that retry.
func (e *Engine) Complete(ctx context.Context, leaseID, workerID string, status corescheduler.State) error {
	if status != corescheduler.Completed && status != corescheduler.Failed {
		return errors.NotValidf("completion status %q", status)
	}

	e.mu.Lock()
	finished, lease, expired, err := e.completeLocked(leaseID, workerID, status)
	e.mu.Unlock()

	e.recordExpired(ctx, expired)
	if err != nil {
		return errors.Trace(err)
	}
	if finished != nil {
		e.recordTerminal(ctx, *finished, lease, finished.UpdatedAt)
	}
	return nil
}

func (e *Engine) completeLocked(leaseID, workerID string, status corescheduler.State) (
	finished *corescheduler.Job,
	lease *corescheduler.Lease,
	expired []ExpiredLease,
	err error,
) {
	expired = e.expireLocked()

	l, ok := e.store.leases[leaseID]
	if !ok {
		// Already reclaimed or completed; treat as success.
		return
	}
	if l.WorkerID != workerID {
		err = errors.Unauthorizedf("lease %q is not held by worker %q", leaseID, workerID)
		return
	}

	now := e.config.Clock.Now()
	if job, ok := e.store.jobs[l.JobID]; ok && !job.State.Terminal() {
		job.State = status
		job.LeaseID = ""
		job.UpdatedAt = now
		finished = &corescheduler.Job{}
		*finished = *job
	}
	captured := *l
	lease = &captured
	delete(e.store.leases, leaseID)
	return
}

// ExpireTick reclaims capacity from leases whose expiry has passed and
// returns how many were removed. The expiry worker calls this on a short
// interval; engine operations also expire inline so observations never
// predate reclamation by more than one call.
func (e *Engine) ExpireTick(ctx context.Context) int {
	e.mu.Lock()
	expired := e.expireLocked()
	e.mu.Unlock()

	e.recordExpired(ctx, expired)
	return len(expired)
}

// expireLocked removes leases with ExpiresAt <= now and transitions their
// jobs to expired. Must be called with the engine mutex held; returned
// values are copies safe to use after unlock.
func (e *Engine) expireLocked() []ExpiredLease {
	now := e.config.Clock.Now()
	var expired []ExpiredLease
	for id, l := range e.store.leases {
		if l.ExpiresAt.After(now) {
			continue
		}
		delete(e.store.leases, id)
		lease := *l

		var job corescheduler.Job
		if j, ok := e.store.jobs[l.JobID]; ok {
			if j.State == corescheduler.Leased || j.State == corescheduler.Running {
				j.State = corescheduler.Expired
				j.LeaseID = ""
				j.UpdatedAt = now
			}
			job = *j
		}
		logger.Debugf("expired lease %s on job %s held by worker %s", lease.ID, lease.JobID, lease.WorkerID)
		expired = append(expired, ExpiredLease{Lease: lease, Job: job})
	}
	return expired
}

// Job returns the current view of a job by id.
func (e *Engine) Job(ctx context.Context, jobID string) (corescheduler.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.store.jobs[jobID]
	if !ok {
		return corescheduler.Job{}, errors.NotFoundf("job %q", jobID)
	}
	return *job, nil
}

// Snapshot reports current capacity and queue state.
func (e *Engine) Snapshot(ctx context.Context) corescheduler.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	busy := e.config.Rater.Rating()
	usable := usableUnits(e.config.TotalCapacityUnits, e.config.ReserveUnits, e.config.HeadroomPct, busy)
	leased := e.store.leasedUnits()
	available := usable - leased
	if available < 0 {
		available = 0
	}
	return corescheduler.Snapshot{
		BusyRating:             busy,
		TotalCapacityUnits:     e.config.TotalCapacityUnits,
		UsableCapacityUnits:    usable,
		LeasedCapacityUnits:    leased,
		AvailableCapacityUnits: available,
		QueueDepths:            e.store.queueDepths(),
		ActiveLeases:           len(e.store.leases),
	}
}

func (e *Engine) recordExpired(ctx context.Context, expired []ExpiredLease) {
	if e.config.History == nil || len(expired) == 0 {
		return
	}
	if err := e.config.History.RecordExpired(ctx, expired); err != nil {
		logger.Errorf("recording %d expired leases in history: %v", len(expired), err)
	}
}

func (e *Engine) recordLease(ctx context.Context, job corescheduler.Job, lease corescheduler.Lease) {
	if e.config.History == nil {
		return
	}
	if err := e.config.History.RecordLease(ctx, job, lease); err != nil {
		logger.Errorf("recording lease %s in history: %v", lease.ID, err)
	}
}

func (e *Engine) recordTerminal(ctx context.Context, job corescheduler.Job, lease *corescheduler.Lease, finishedAt time.Time) {
	if e.config.History == nil {
		return
	}
	if err := e.config.History.UpdateState(ctx, job, lease, finishedAt); err != nil {
		logger.Errorf("updating job %s state in history: %v", job.ID, err)
	}
}
