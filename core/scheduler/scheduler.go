// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package scheduler holds the domain types shared between the scheduling
// engine, the history sink and the API surface. Types here carry no locking
// and perform no I/O.
package scheduler

import (
	"strings"
	"time"

	"github.com/juju/errors"
)

// Priority orders jobs for dispatch. Buckets are drained strictly in the
// order High, Normal, Low, Background; within a bucket, oldest first.
type Priority string

const (
	High       Priority = "high"
	Normal     Priority = "normal"
	Low        Priority = "low"
	Background Priority = "background"
)

// Priorities lists all priorities in dispatch order.
var Priorities = []Priority{High, Normal, Low, Background}

// ParsePriority validates a wire-level priority string. The empty string
// maps to Normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return Normal, nil
	case High, Normal, Low, Background:
		return Priority(s), nil
	}
	return "", errors.NotValidf("priority %q", s)
}

// State is a job's position in its lifecycle.
type State string

const (
	Queued    State = "queued"
	Leased    State = "leased"
	Running   State = "running"
	Completed State = "completed"
	Failed    State = "failed"
	Expired   State = "expired"
)

// Terminal reports whether the state is absorbing. No transition ever
// leaves a terminal state.
func (s State) Terminal() bool {
	switch s {
	case Completed, Failed, Expired:
		return true
	}
	return false
}

// OwnerTagPrefix marks the tag carrying a job's owner for per-owner lease
// accounting and history aggregation, e.g. "owner:hello-world".
const OwnerTagPrefix = "owner:"

// Owner extracts the owner id from a job's tags, or "" when untagged.
func Owner(tags []string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, OwnerTagPrefix) {
			return tag[len(OwnerTagPrefix):]
		}
	}
	return ""
}

// Job is one submitted unit of work.
type Job struct {
	ID             string
	Type           string
	Priority       Priority
	RequestedUnits int

	State   State
	Payload map[string]any

	IdempotencyKey string
	Tags           []string

	// Unique jobs are granted to a worker only while that worker holds no
	// other lease.
	Unique bool

	LeaseID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner returns the job's owner id parsed from its tags, or "".
func (j Job) Owner() string {
	return Owner(j.Tags)
}

// Lease is an exclusive, time-bounded right to execute one job. Units are
// reserved against scheduler capacity for as long as the lease is live.
type Lease struct {
	ID       string
	JobID    string
	WorkerID string

	CapacityUnits int

	IssuedAt      time.Time
	LastHeartbeat time.Time
	ExpiresAt     time.Time
}

// Snapshot is a read-only observation of engine state.
type Snapshot struct {
	BusyRating int

	TotalCapacityUnits     int
	UsableCapacityUnits    int
	LeasedCapacityUnits    int
	AvailableCapacityUnits int

	QueueDepths  map[Priority]int
	ActiveLeases int
}

// Grant is the successful outcome of a lease request.
type Grant struct {
	Lease Lease
	Job   Job
}

// Denial is the unsuccessful outcome of a lease request. It is normal flow,
// not an error; the client retries after the suggested delay.
type Denial struct {
	Reason     string
	RetryAfter time.Duration
}

// LeaseOutcome is the result of RequestLease: exactly one of Granted or
// Denied is set.
type LeaseOutcome struct {
	Granted *Grant
	Denied  *Denial
}
