// Package server exposes the investigation service over HTTP.
//
// Responsibilities:
//   - REST API: start investigations, fetch results, list sessions
//   - WebSocket stream of live agent events per investigation
//   - Prometheus metrics and health endpoints
//   - Degraded mode: investigation endpoints return 503 while the LLM
//     backend has no credentials
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/config"
	"github.com/sentinelops/sentinel-ai/internal/db"
	"github.com/sentinelops/sentinel-ai/internal/llm/budget"
	"github.com/sentinelops/sentinel-ai/internal/middleware"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/investigation"
)

const startRequestsPerMinute = 30

// Server is the HTTP front end of the investigation service.
type Server struct {
	cfg            *config.Config
	investigations investigation.Manager
	store          db.Store
	tracker        budget.BudgetTracker
	logger         *zap.Logger

	httpServer *http.Server
	limiter    *middleware.RateLimiter
}

// New creates a server. tracker may be nil; budget endpoints then return 404.
func New(
	cfg *config.Config,
	investigations investigation.Manager,
	store db.Store,
	tracker budget.BudgetTracker,
	logger *zap.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if investigations == nil {
		return nil, fmt.Errorf("investigation manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:            cfg,
		investigations: investigations,
		store:          store,
		tracker:        tracker,
		logger:         logger,
		limiter:        middleware.NewRateLimiter(startRequestsPerMinute),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/investigations", s.limiter.Wrap(http.HandlerFunc(s.handleStartInvestigation)))
	mux.HandleFunc("GET /api/v1/investigations", s.handleListInvestigations)
	mux.HandleFunc("GET /api/v1/investigations/{id}", s.handleGetInvestigation)
	mux.HandleFunc("GET /api/v1/investigations/{id}/events", s.handleInvestigationEvents)
	mux.HandleFunc("POST /api/v1/investigations/{id}/cancel", s.handleCancelInvestigation)
	mux.HandleFunc("POST /api/v1/investigations/{id}/archive", s.handleArchiveInvestigation)
	mux.HandleFunc("POST /api/v1/investigations/{id}/findings", s.handleAddFinding)

	if s.tracker != nil {
		mux.HandleFunc("GET /api/v1/budget/usage", s.handleBudgetUsage)
		mux.HandleFunc("PUT /api/v1/budget/limit", s.handleBudgetSetLimit)
	}
	if s.store != nil {
		mux.HandleFunc("GET /api/v1/audit/events", s.handleAuditEvents)
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	return mux
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("llm_configured", s.cfg.LLM.Configured))
	var err error
	if s.cfg.Server.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
