package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// handleListLevels returns the shutdown level taxonomy, least severe first.
func (s *Server) handleListLevels(w http.ResponseWriter, _ *http.Request) {
	levels := s.catalog.ListLevels()
	writeJSON(w, http.StatusOK, map[string]any{"levels": levels, "count": len(levels)})
}

// handleListSequences returns the sequence catalog.
//
// Query parameters:
//   - site_id: only sequences of this site
func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if len(siteID) > maxQueryParamLen {
		writeBadRequest(w, "site_id exceeds maximum length")
		return
	}
	seqs := s.catalog.ListSequences(r.Context(), siteID)
	writeJSON(w, http.StatusOK, map[string]any{"sequences": seqs, "count": len(seqs)})
}

// sequenceDetail is a sequence with the permissives that gate it.
type sequenceDetail struct {
	*sequence.Sequence
	Permissives []sequence.Permissive `json:"permissives"`
}

// handleGetSequence returns one sequence with its permissives.
func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seq, err := s.catalog.GetSequence(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sequenceDetail{
		Sequence:    seq,
		Permissives: s.catalog.ListPermissives(id),
	})
}

// handleGetPlan compiles a sequence and returns its stages. A sequence
// that cannot compile yields a validation error, the same one Initiate
// would return.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	seq, err := s.catalog.GetSequence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	plan, err := sequence.Compile(seq)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":        plan,
		"stage_count": len(plan.Stages),
		"step_count":  plan.StepCount(),
	})
}

// handleListInterlocks returns interlocks, highest priority first.
//
// Query parameters:
//   - site_id: only interlocks of this site
func (s *Server) handleListInterlocks(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if len(siteID) > maxQueryParamLen {
		writeBadRequest(w, "site_id exceeds maximum length")
		return
	}
	interlocks := s.catalog.ListInterlocks(siteID)
	writeJSON(w, http.StatusOK, map[string]any{"interlocks": interlocks, "count": len(interlocks)})
}
