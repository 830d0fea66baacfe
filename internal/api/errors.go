package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-esd/internal/auth"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeConflict         = "conflict"
	ErrCodeApprovalRequired = "approval_required"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnavailable      = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps engine and catalog errors onto HTTP statuses.
// Only unexpected errors are logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Validation first: an unknown sequence in an initiate request is a
	// bad request, while GET /sequences/{id} reports it as not found.
	case errors.Is(err, orchestrator.ErrValidation),
		errors.Is(err, sequence.ErrPlan),
		errors.Is(err, sequence.ErrInvalidSequence),
		errors.Is(err, sequence.ErrInvalidStep),
		errors.Is(err, sequence.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, orchestrator.ErrExecutionNotFound),
		errors.Is(err, sequence.ErrSequenceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, orchestrator.ErrApprovalRequired):
		writeError(w, http.StatusConflict, ErrCodeApprovalRequired, err.Error())
	case errors.Is(err, orchestrator.ErrState):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, err.Error())
	case errors.Is(err, orchestrator.ErrEngineClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine is shutting down")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
