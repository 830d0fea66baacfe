package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
)

// initiateRequest is the body of POST /executions. The initiator is the
// authenticated caller, never a body field.
type initiateRequest struct {
	SequenceID       string `json:"sequence_id"`
	Reason           string `json:"reason"`
	IsEmergency      bool   `json:"is_emergency"`
	BypassInterlocks bool   `json:"bypass_interlocks"`
}

// reasonRequest is the optional body of reject and abort.
type reasonRequest struct {
	Reason string `json:"reason"`
}

// handleInitiate creates an execution. Emergencies and sequences without
// approval start immediately; the rest wait in pending.
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SequenceID == "" {
		writeBadRequest(w, "sequence_id is required")
		return
	}

	exec, err := s.engine.Initiate(r.Context(), orchestrator.InitiateRequest{
		SequenceID:       req.SequenceID,
		Initiator:        actor(r),
		Reason:           req.Reason,
		IsEmergency:      req.IsEmergency,
		BypassInterlocks: req.BypassInterlocks,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exec)
}

// handleListExecutions lists executions, newest first.
//
// Query parameters:
//   - active: "true" returns the engine's in-memory active set
//   - status: comma-separated statuses
//   - sequence_id: only executions of this sequence
//   - limit: maximum rows
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if active, _ := strconv.ParseBool(q.Get("active")); active { //nolint:errcheck // non-bool means not active
		execs := s.engine.ListActive()
		writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
		return
	}

	var filter orchestrator.Filter
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := orchestrator.Status(strings.TrimSpace(part))
			if !validStatus(st) {
				writeBadRequest(w, "invalid status: "+string(st))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if seqID := q.Get("sequence_id"); seqID != "" {
		if len(seqID) > maxQueryParamLen {
			writeBadRequest(w, "sequence_id exceeds maximum length")
			return
		}
		filter.SequenceID = seqID
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	execs, err := s.engine.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

// handleGetExecution returns one execution.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleExecutionLogs returns the execution log in seq order.
//
// Query parameters:
//   - level: INFO, WARNING, ERROR or SUCCESS
//   - step_id: only entries of this step
//   - after_seq: entries with seq greater than this (for incremental polling)
//   - limit: maximum entries
func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := chi.URLParam(r, "id")

	var filter audit.Filter
	if lvl := q.Get("level"); lvl != "" {
		filter.Level = audit.Level(strings.ToUpper(lvl))
		if !filter.Level.Valid() {
			writeBadRequest(w, "invalid level: "+lvl)
			return
		}
	}
	filter.StepID = q.Get("step_id")
	if raw := q.Get("after_seq"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeBadRequest(w, "after_seq must be a non-negative integer")
			return
		}
		filter.AfterSeq = after
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	entries, err := s.engine.Logs(r.Context(), id, filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"execution_id": id, "entries": entries, "count": len(entries)})
}

// handleApprove approves a pending execution and starts it.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.Approve(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleReject rejects a pending execution, failing it.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeReason(w, r)
	if !ok {
		return
	}
	exec, err := s.engine.Reject(r.Context(), chi.URLParam(r, "id"), actor(r), body.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleContinue resumes a paused execution.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.Continue(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleAbort stops a running or paused execution.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeReason(w, r)
	if !ok {
		return
	}
	exec, err := s.engine.Abort(r.Context(), chi.URLParam(r, "id"), actor(r), body.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decodeReason reads an optional {"reason": "..."} body.
func decodeReason(w http.ResponseWriter, r *http.Request) (reasonRequest, bool) {
	var body reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return body, false
	}
	return body, true
}

// parseLimit reads an optional positive limit.
func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func validStatus(st orchestrator.Status) bool {
	switch st {
	case orchestrator.StatusPending, orchestrator.StatusRunning, orchestrator.StatusPaused,
		orchestrator.StatusCompleted, orchestrator.StatusFailed, orchestrator.StatusAborted:
		return true
	}
	return false
}
