// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package history implements the durable record of job outcomes: one
// SQLite row per job, upserted on lease grant and on every terminal
// transition, with per-owner aggregate queries over a trailing window.
//
// The store is advisory. Engine correctness never depends on it, and a
// write failure is logged by the caller rather than rolled back.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	_ "github.com/mattn/go-sqlite3"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
	"github.com/danhajduk/SynthiaCore/internal/scheduler"
)

var logger = loggo.GetLogger("synthiacore.history")

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
  job_id TEXT PRIMARY KEY,
  type TEXT,
  priority TEXT,
  requested_units INTEGER,
  unique_flag INTEGER,
  state TEXT,
  payload_json TEXT,
  tags_json TEXT,
  owner TEXT,
  idempotency_key TEXT,
  lease_id TEXT,
  worker_id TEXT,
  created_at TEXT,
  updated_at TEXT,
  leased_at TEXT,
  finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_history_updated ON job_history (updated_at);
CREATE INDEX IF NOT EXISTS idx_job_history_owner ON job_history (owner);
CREATE INDEX IF NOT EXISTS idx_job_history_state ON job_history (state);
`

// recordLeaseStmt writes the row at grant time. A re-grant after expiry
// refreshes everything except the original leased_at.
var recordLeaseStmt = sqlair.MustPrepare(`
INSERT INTO job_history (
  job_id, type, priority, requested_units, unique_flag, state,
  payload_json, tags_json, owner, idempotency_key,
  lease_id, worker_id, created_at, updated_at, leased_at, finished_at
)
VALUES (
  $jobRow.job_id, $jobRow.type, $jobRow.priority, $jobRow.requested_units,
  $jobRow.unique_flag, $jobRow.state, $jobRow.payload_json, $jobRow.tags_json,
  $jobRow.owner, $jobRow.idempotency_key, $jobRow.lease_id, $jobRow.worker_id,
  $jobRow.created_at, $jobRow.updated_at, $jobRow.leased_at, $jobRow.finished_at
)
ON CONFLICT (job_id) DO UPDATE SET
  type = excluded.type,
  priority = excluded.priority,
  requested_units = excluded.requested_units,
  unique_flag = excluded.unique_flag,
  state = excluded.state,
  payload_json = excluded.payload_json,
  tags_json = excluded.tags_json,
  owner = excluded.owner,
  idempotency_key = excluded.idempotency_key,
  lease_id = excluded.lease_id,
  worker_id = excluded.worker_id,
  created_at = excluded.created_at,
  updated_at = excluded.updated_at,
  leased_at = COALESCE(job_history.leased_at, excluded.leased_at)
`, jobRow{})

// updateStateStmt upserts the latest state. Existing leased_at and
// finished_at are never clobbered with null.
var updateStateStmt = sqlair.MustPrepare(`
INSERT INTO job_history (
  job_id, type, priority, requested_units, unique_flag, state,
  payload_json, tags_json, owner, idempotency_key,
  lease_id, worker_id, created_at, updated_at, leased_at, finished_at
)
VALUES (
  $jobRow.job_id, $jobRow.type, $jobRow.priority, $jobRow.requested_units,
  $jobRow.unique_flag, $jobRow.state, $jobRow.payload_json, $jobRow.tags_json,
  $jobRow.owner, $jobRow.idempotency_key, $jobRow.lease_id, $jobRow.worker_id,
  $jobRow.created_at, $jobRow.updated_at, $jobRow.leased_at, $jobRow.finished_at
)
ON CONFLICT (job_id) DO UPDATE SET
  type = excluded.type,
  priority = excluded.priority,
  requested_units = excluded.requested_units,
  unique_flag = excluded.unique_flag,
  state = excluded.state,
  payload_json = excluded.payload_json,
  tags_json = excluded.tags_json,
  owner = excluded.owner,
  idempotency_key = excluded.idempotency_key,
  lease_id = COALESCE(excluded.lease_id, job_history.lease_id),
  worker_id = COALESCE(excluded.worker_id, job_history.worker_id),
  created_at = excluded.created_at,
  updated_at = excluded.updated_at,
  leased_at = COALESCE(job_history.leased_at, excluded.leased_at),
  finished_at = COALESCE(excluded.finished_at, job_history.finished_at)
`, jobRow{})

var selectSinceStmt = sqlair.MustPrepare(`
SELECT &jobRow.*
FROM   job_history
WHERE  COALESCE(finished_at, updated_at) >= $cutoff.bound
`, jobRow{}, cutoff{})

var cleanupStmt = sqlair.MustPrepare(`
DELETE FROM job_history
WHERE COALESCE(finished_at, updated_at) < $cutoff.bound
`, cutoff{})

// Store is the SQLite-backed history sink. It serializes its own writes
// and tolerates concurrent callers.
type Store struct {
	clock clock.Clock

	mu  sync.Mutex
	raw *sql.DB
	db  *sqlair.DB
}

// Open opens (creating if necessary) the history database at path.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		return nil, errors.NotValidf("nil clock")
	}
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening history database %q", path)
	}
	if _, err := raw.Exec(schema); err != nil {
		_ = raw.Close()
		return nil, errors.Annotate(err, "ensuring history schema")
	}
	logger.Debugf("history database open at %s", path)
	return &Store{clock: clk, raw: raw, db: sqlair.NewDB(raw)}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return errors.Trace(s.raw.Close())
}

// RecordLease implements scheduler.HistorySink.
func (s *Store) RecordLease(ctx context.Context, job corescheduler.Job, lease corescheduler.Lease) error {
	row, err := newJobRow(job, &lease, time.Time{})
	if err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.Query(ctx, recordLeaseStmt, row).Run()
	return errors.Annotatef(err, "recording lease for job %q", job.ID)
}

// UpdateState implements scheduler.HistorySink.
func (s *Store) UpdateState(ctx context.Context, job corescheduler.Job, lease *corescheduler.Lease, finishedAt time.Time) error {
	row, err := newJobRow(job, lease, finishedAt)
	if err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.db.Query(ctx, updateStateStmt, row).Run()
	return errors.Annotatef(err, "updating history state for job %q", job.ID)
}

// RecordExpired implements scheduler.HistorySink. Entries whose job did
// not actually transition to expired (say, it was already terminal) are
// skipped.
func (s *Store) RecordExpired(ctx context.Context, expired []scheduler.ExpiredLease) error {
	for _, entry := range expired {
		if entry.Job.ID == "" || entry.Job.State != corescheduler.Expired {
			continue
		}
		lease := entry.Lease
		if err := s.UpdateState(ctx, entry.Job, &lease, entry.Job.UpdatedAt); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Cleanup removes rows finished (or last updated) before the cutoff and
// reports how many were deleted.
func (s *Store) Cleanup(ctx context.Context, days int) (int, error) {
	bound := cutoff{Bound: formatTime(s.clock.Now().AddDate(0, 0, -days))}

	s.mu.Lock()
	defer s.mu.Unlock()
	var outcome sqlair.Outcome
	if err := s.db.Query(ctx, cleanupStmt, bound).Get(&outcome); err != nil {
		return 0, errors.Annotate(err, "cleaning up history")
	}
	affected, err := outcome.Result().RowsAffected()
	if err != nil {
		return 0, errors.Trace(err)
	}
	return int(affected), nil
}

// newJobRow flattens a job (and optionally its lease) into table shape,
// mirroring the precedence the upserts expect. When no lease is supplied
// for a job that is leased or running, the job's own timestamps stand in.
func newJobRow(job corescheduler.Job, lease *corescheduler.Lease, finishedAt time.Time) (jobRow, error) {
	payload := job.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return jobRow{}, errors.Annotate(err, "marshalling payload")
	}
	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return jobRow{}, errors.Annotate(err, "marshalling tags")
	}

	leaseID := nullString(job.LeaseID)
	var workerID sql.NullString
	var leasedAt sql.NullString
	if lease != nil {
		leaseID = nullString(lease.ID)
		workerID = nullString(lease.WorkerID)
		leasedAt = formatNullTime(lease.IssuedAt)
	} else if job.State == corescheduler.Leased || job.State == corescheduler.Running {
		leasedAt = formatNullTime(job.UpdatedAt)
	}

	return jobRow{
		JobID:          job.ID,
		Type:           job.Type,
		Priority:       string(job.Priority),
		RequestedUnits: job.RequestedUnits,
		UniqueFlag:     job.Unique,
		State:          string(job.State),
		PayloadJSON:    string(payloadJSON),
		TagsJSON:       string(tagsJSON),
		Owner:          nullString(job.Owner()),
		IdempotencyKey: nullString(job.IdempotencyKey),
		LeaseID:        leaseID,
		WorkerID:       workerID,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
		LeasedAt:       leasedAt,
		FinishedAt:     formatNullTime(finishedAt),
	}, nil
}
