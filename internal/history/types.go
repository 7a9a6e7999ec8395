// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package history

import (
	"database/sql"
	"time"

	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
)

// timeFormat is a fixed-width UTC layout so stored timestamps order
// lexicographically, which the cutoff comparisons rely on.
const timeFormat = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatNullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseNullTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid {
		return time.Time{}, false
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jobRow is the job_history table shape.
type jobRow struct {
	JobID          string         `db:"job_id"`
	Type           string         `db:"type"`
	Priority       string         `db:"priority"`
	RequestedUnits int            `db:"requested_units"`
	UniqueFlag     bool           `db:"unique_flag"`
	State          string         `db:"state"`
	PayloadJSON    string         `db:"payload_json"`
	TagsJSON       string         `db:"tags_json"`
	Owner          sql.NullString `db:"owner"`
	IdempotencyKey sql.NullString `db:"idempotency_key"`
	LeaseID        sql.NullString `db:"lease_id"`
	WorkerID       sql.NullString `db:"worker_id"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	LeasedAt       sql.NullString `db:"leased_at"`
	FinishedAt     sql.NullString `db:"finished_at"`
}

// cutoff carries a timestamp bound into queries.
type cutoff struct {
	Bound string `db:"bound"`
}

// OwnerStats aggregates one owner's recent history.
type OwnerStats struct {
	Owner  string
	Count  int
	States map[corescheduler.State]int

	// Averages are nil when no row carried the timestamps needed to
	// compute them.
	AvgRuntimeSecs   *float64
	P95RuntimeSecs   *float64
	AvgQueueWaitSecs *float64
}

// Stats summarizes job outcomes over a trailing window.
type Stats struct {
	RangeStart time.Time
	RangeEnd   time.Time

	Total         int
	TotalsByState map[corescheduler.State]int

	// SuccessRate is completed / (completed + failed + expired), nil when
	// no job reached a terminal state in the window.
	SuccessRate *float64

	AvgQueueWaitSecs *float64

	Owners []OwnerStats
}
