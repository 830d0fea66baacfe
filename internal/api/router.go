package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-esd/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates with a ticket, validated in the handler.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCatalogRead))
				r.Get("/levels", s.handleListLevels)
				r.Get("/interlocks", s.handleListInterlocks)
				r.Route("/sequences", func(r chi.Router) {
					r.Get("/", s.handleListSequences)
					r.Get("/{id}", s.handleGetSequence)
					r.Get("/{id}/plan", s.handleGetPlan)
				})
			})

			r.Route("/executions", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermExecutionRead)).Get("/", s.handleListExecutions)
				r.With(s.requirePermission(auth.PermExecutionInitiate)).Post("/", s.handleInitiate)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.requirePermission(auth.PermExecutionRead)).Get("/", s.handleGetExecution)
					r.With(s.requirePermission(auth.PermExecutionRead)).Get("/logs", s.handleExecutionLogs)

					r.With(s.requirePermission(auth.PermExecutionApprove)).Post("/approve", s.handleApprove)
					r.With(s.requirePermission(auth.PermExecutionApprove)).Post("/reject", s.handleReject)
					r.With(s.requirePermission(auth.PermExecutionControl)).Post("/continue", s.handleContinue)
					r.With(s.requirePermission(auth.PermExecutionControl)).Post("/abort", s.handleAbort)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"active_executions": len(s.engine.ListActive()),
		"websocket_clients": s.hub.ClientCount(),
	})
}
