// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the wire types exchanged with addons and remote
// workers. Keep this package free of engine imports so clients can vendor
// it cheaply.
package params

import "time"

// Error is the body returned with any non-2xx status.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job mirrors the engine's job for wire transport.
type Job struct {
	JobID          string         `json:"job_id"`
	Type           string         `json:"type"`
	Priority       string         `json:"priority"`
	RequestedUnits int            `json:"requested_units"`
	State          string         `json:"state"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Unique         bool           `json:"unique,omitempty"`
	LeaseID        string         `json:"lease_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Lease mirrors the engine's lease for wire transport.
type Lease struct {
	LeaseID       string    `json:"lease_id"`
	JobID         string    `json:"job_id"`
	WorkerID      string    `json:"worker_id"`
	CapacityUnits int       `json:"capacity_units"`
	IssuedAt      time.Time `json:"issued_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// SubmitJobRequest submits one unit of work.
type SubmitJobRequest struct {
	Type           string         `json:"type,omitempty"`
	Priority       string         `json:"priority,omitempty"`
	RequestedUnits int            `json:"requested_units"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Unique         bool           `json:"unique,omitempty"`
}

// SubmitJobResponse acknowledges a submission. On an idempotency match the
// job id belongs to the previously submitted job.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// RequestLeaseRequest asks for the next eligible job.
type RequestLeaseRequest struct {
	WorkerID string `json:"worker_id"`
	// MaxUnits caps the units the worker is willing to take on. Zero
	// means no cap.
	MaxUnits int `json:"max_units,omitempty"`
}

// RequestLeaseResponse is either a grant (Lease and Job set) or a denial
// (Denied true with a reason and retry hint).
type RequestLeaseResponse struct {
	Denied       bool   `json:"denied"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	Lease        *Lease `json:"lease,omitempty"`
	Job          *Job   `json:"job,omitempty"`
}

// HeartbeatRequest extends a lease.
type HeartbeatRequest struct {
	WorkerID string `json:"worker_id"`
}

// HeartbeatResponse reports the lease's new expiry.
type HeartbeatResponse struct {
	OK        bool      `json:"ok"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CompleteLeaseRequest finalizes a job.
type CompleteLeaseRequest struct {
	WorkerID string `json:"worker_id"`
	// Status is "completed" or "failed".
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CompleteLeaseResponse acknowledges completion.
type CompleteLeaseResponse struct {
	OK bool `json:"ok"`
}

// SchedulerStatus is the engine snapshot on the wire.
type SchedulerStatus struct {
	BusyRating             int            `json:"busy_rating"`
	TotalCapacityUnits     int            `json:"total_capacity_units"`
	UsableCapacityUnits    int            `json:"usable_capacity_units"`
	LeasedCapacityUnits    int            `json:"leased_capacity_units"`
	AvailableCapacityUnits int            `json:"available_capacity_units"`
	QueueDepths            map[string]int `json:"queue_depths"`
	ActiveLeases           int            `json:"active_leases"`
}

// OwnerHistoryStats aggregates one owner's recent outcomes.
type OwnerHistoryStats struct {
	Owner            string         `json:"owner"`
	Count            int            `json:"count"`
	States           map[string]int `json:"states"`
	AvgRuntimeSecs   *float64       `json:"avg_runtime_s"`
	P95RuntimeSecs   *float64       `json:"p95_runtime_s"`
	AvgQueueWaitSecs *float64       `json:"avg_queue_wait_s"`
}

// HistoryStats summarizes outcomes over a trailing window of days.
type HistoryStats struct {
	RangeStart       time.Time           `json:"range_start"`
	RangeEnd         time.Time           `json:"range_end"`
	Total            int                 `json:"total"`
	TotalsByState    map[string]int      `json:"totals_by_state"`
	SuccessRate      *float64            `json:"success_rate"`
	AvgQueueWaitSecs *float64            `json:"avg_queue_wait_s"`
	Owners           []OwnerHistoryStats `json:"owners"`
}
