package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-esd/internal/audit"
	"github.com/nerrad567/gray-logic-esd/internal/auth"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-esd/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-esd/internal/orchestrator"
	"github.com/nerrad567/gray-logic-esd/internal/sequence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CatalogReader is the read side of the sequence catalog.
type CatalogReader interface {
	ListLevels() []sequence.ShutdownLevel
	ListSequences(ctx context.Context, siteID string) []sequence.Sequence
	GetSequence(ctx context.Context, id string) (*sequence.Sequence, error)
	ListInterlocks(siteID string) []sequence.Interlock
	ListPermissives(sequenceID string) []sequence.Permissive
}

// Executor drives and queries executions. *orchestrator.Engine satisfies it.
type Executor interface {
	Initiate(ctx context.Context, req orchestrator.InitiateRequest) (*orchestrator.Execution, error)
	Approve(ctx context.Context, id, approver string) (*orchestrator.Execution, error)
	Reject(ctx context.Context, id, approver, reason string) (*orchestrator.Execution, error)
	Continue(ctx context.Context, id, actor string) (*orchestrator.Execution, error)
	Abort(ctx context.Context, id, actor, reason string) (*orchestrator.Execution, error)
	Get(ctx context.Context, id string) (*orchestrator.Execution, error)
	ListActive() []orchestrator.Execution
	List(ctx context.Context, filter orchestrator.Filter) ([]orchestrator.Execution, error)
	Logs(ctx context.Context, id string, filter audit.Filter) ([]audit.Entry, error)
	Subscribe() (<-chan orchestrator.Event, func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Catalog   CatalogReader
	Engine    Executor
	Operators *auth.Directory
	Version   string
}

// Server is the HTTP API server for the ESD core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	catalog   CatalogReader
	engine    Executor
	operators *auth.Directory
	version   string
	tickets   *ticketStore
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("sequence catalog is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("execution engine is required")
	case deps.Operators == nil:
		return nil, fmt.Errorf("operator directory is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		catalog:   deps.Catalog,
		engine:    deps.Engine,
		operators: deps.Operators,
		version:   deps.Version,
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays engine events into it, and launches
// the HTTP listener in a background goroutine. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	events, unsubscribe := s.engine.Subscribe()
	go func() {
		defer unsubscribe()
		s.hub.Relay(srvCtx, events)
	}()

	// Start periodic ticket cleanup to prevent memory leaks
	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
