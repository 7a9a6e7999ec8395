// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package apiserver exposes the scheduling engine to addons and remote
// workers over a small JSON/HTTP surface. It is a thin adapter: request
// framing only, no scheduling policy.
package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/danhajduk/SynthiaCore/apiserver/params"
	corescheduler "github.com/danhajduk/SynthiaCore/core/scheduler"
	"github.com/danhajduk/SynthiaCore/internal/history"
	"github.com/danhajduk/SynthiaCore/internal/scheduler"
)

var logger = loggo.GetLogger("synthiacore.apiserver")

// defaultStatsDays is the history window when the query omits days.
const defaultStatsDays = 30

// StatsSource answers history aggregate queries.
type StatsSource interface {
	Stats(ctx context.Context, days int) (history.Stats, error)
}

// Config holds the server's collaborators.
type Config struct {
	Engine  *scheduler.Engine
	History StatsSource
}

// Validate returns an error if the config cannot back a Server.
func (config Config) Validate() error {
	if config.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	return nil
}

// Server routes scheduler requests to the engine.
type Server struct {
	config Config
}

// NewServer returns a Server using the supplied config.
func NewServer(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Server{config: config}, nil
}

// Router returns the HTTP surface. Mount it wherever the host process
// serves; middleware (metrics, logging) wraps outside.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/jobs", s.submitJob).Methods("POST")
	r.HandleFunc("/v1/jobs/{job_id}", s.getJob).Methods("GET")
	r.HandleFunc("/v1/leases/request", s.requestLease).Methods("POST")
	r.HandleFunc("/v1/leases/{lease_id}/heartbeat", s.heartbeat).Methods("POST")
	r.HandleFunc("/v1/leases/{lease_id}/complete", s.complete).Methods("POST")
	r.HandleFunc("/v1/scheduler/status", s.status).Methods("GET")
	r.HandleFunc("/v1/scheduler/history/stats", s.historyStats).Methods("GET")
	return r
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req params.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewNotValid(err, "decoding request body"))
		return
	}
	job, err := s.config.Engine.Submit(r.Context(), scheduler.SubmitRequest{
		Type:           req.Type,
		Priority:       corescheduler.Priority(req.Priority),
		RequestedUnits: req.RequestedUnits,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Tags:           req.Tags,
		Unique:         req.Unique,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params.SubmitJobResponse{
		JobID: job.ID,
		State: string(job.State),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.config.Engine.Job(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wireJob(job))
}

func (s *Server) requestLease(w http.ResponseWriter, r *http.Request) {
	var req params.RequestLeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewNotValid(err, "decoding request body"))
		return
	}
	outcome, err := s.config.Engine.RequestLease(r.Context(), req.WorkerID, req.MaxUnits)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome.Denied != nil {
		writeJSON(w, http.StatusOK, params.RequestLeaseResponse{
			Denied:       true,
			Reason:       outcome.Denied.Reason,
			RetryAfterMs: outcome.Denied.RetryAfter.Milliseconds(),
		})
		return
	}
	lease := wireLease(outcome.Granted.Lease)
	job := wireJob(outcome.Granted.Job)
	writeJSON(w, http.StatusOK, params.RequestLeaseResponse{
		Lease: &lease,
		Job:   &job,
	})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req params.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewNotValid(err, "decoding request body"))
		return
	}
	lease, err := s.config.Engine.Heartbeat(r.Context(), mux.Vars(r)["lease_id"], req.WorkerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params.HeartbeatResponse{
		OK:        true,
		ExpiresAt: lease.ExpiresAt,
	})
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var req params.CompleteLeaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewNotValid(err, "decoding request body"))
		return
	}
	err := s.config.Engine.Complete(
		r.Context(), mux.Vars(r)["lease_id"], req.WorkerID, corescheduler.State(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, params.CompleteLeaseResponse{OK: true})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap := s.config.Engine.Snapshot(r.Context())
	depths := make(map[string]int, len(snap.QueueDepths))
	for priority, depth := range snap.QueueDepths {
		depths[string(priority)] = depth
	}
	writeJSON(w, http.StatusOK, params.SchedulerStatus{
		BusyRating:             snap.BusyRating,
		TotalCapacityUnits:     snap.TotalCapacityUnits,
		UsableCapacityUnits:    snap.UsableCapacityUnits,
		LeasedCapacityUnits:    snap.LeasedCapacityUnits,
		AvailableCapacityUnits: snap.AvailableCapacityUnits,
		QueueDepths:            depths,
		ActiveLeases:           snap.ActiveLeases,
	})
}

func (s *Server) historyStats(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		writeError(w, errors.NotSupportedf("history"))
		return
	}
	days := defaultStatsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, errors.NotValidf("days %q", raw))
			return
		}
		days = parsed
	}
	stats, err := s.config.History.Stats(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wireStats(stats))
}

func wireJob(job corescheduler.Job) params.Job {
	return params.Job{
		JobID:          job.ID,
		Type:           job.Type,
		Priority:       string(job.Priority),
		RequestedUnits: job.RequestedUnits,
		State:          string(job.State),
		Payload:        job.Payload,
		IdempotencyKey: job.IdempotencyKey,
		Tags:           job.Tags,
		Unique:         job.Unique,
		LeaseID:        job.LeaseID,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func wireLease(lease corescheduler.Lease) params.Lease {
	return params.Lease{
		LeaseID:       lease.ID,
		JobID:         lease.JobID,
		WorkerID:      lease.WorkerID,
		CapacityUnits: lease.CapacityUnits,
		IssuedAt:      lease.IssuedAt,
		LastHeartbeat: lease.LastHeartbeat,
		ExpiresAt:     lease.ExpiresAt,
	}
}

func wireStats(stats history.Stats) params.HistoryStats {
	out := params.HistoryStats{
		RangeStart:       stats.RangeStart,
		RangeEnd:         stats.RangeEnd,
		Total:            stats.Total,
		TotalsByState:    make(map[string]int, len(stats.TotalsByState)),
		SuccessRate:      stats.SuccessRate,
		AvgQueueWaitSecs: stats.AvgQueueWaitSecs,
	}
	for state, n := range stats.TotalsByState {
		out.TotalsByState[string(state)] = n
	}
	for _, owner := range stats.Owners {
		states := make(map[string]int, len(owner.States))
		for state, n := range owner.States {
			states[string(state)] = n
		}
		out.Owners = append(out.Owners, params.OwnerHistoryStats{
			Owner:            owner.Owner,
			Count:            owner.Count,
			States:           states,
			AvgRuntimeSecs:   owner.AvgRuntimeSecs,
			P95RuntimeSecs:   owner.P95RuntimeSecs,
			AvgQueueWaitSecs: owner.AvgQueueWaitSecs,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, errors.NotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errors.Unauthorized):
		status, code = http.StatusForbidden, "worker_mismatch"
	case errors.Is(err, errors.NotValid):
		status, code = http.StatusBadRequest, "invalid"
	case errors.Is(err, errors.NotSupported):
		status, code = http.StatusNotImplemented, "not_supported"
	}
	writeJSON(w, status, params.Error{Code: code, Message: err.Error()})
}
