package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/catalog"
	"github.com/dealerlytics/dealerlytics-ai/internal/config"
	"github.com/dealerlytics/dealerlytics-ai/internal/middleware"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/alerting"
	"github.com/dealerlytics/dealerlytics-ai/internal/monitor/scheduler"
	"github.com/dealerlytics/dealerlytics-ai/internal/query/orchestrator"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

// Server is the HTTP/WebSocket front of dealerlytics-ai: the query pipeline,
// the alert lifecycle, and the scan engine controls.
type Server struct {
	config *config.Config

	// Core components
	orchestrator orchestrator.Orchestrator
	alerts       alerting.Manager
	scheduler    scheduler.Scheduler
	store        store.Store
	catalog      *catalog.Catalog
	audit        audit.Logger
	logger       *zap.Logger

	// HTTP server
	httpServer *http.Server
	limiter    *middleware.RateLimiter

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// Deps bundles the server's collaborators.
type Deps struct {
	Orchestrator orchestrator.Orchestrator
	Alerts       alerting.Manager
	Scheduler    scheduler.Scheduler
	Store        store.Store
	Catalog      *catalog.Catalog
	Audit        audit.Logger
	Logger       *zap.Logger
}

// NewServer creates the server over its collaborators.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Orchestrator == nil || deps.Store == nil {
		return nil, fmt.Errorf("orchestrator and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.QueryRatePerMin > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.QueryRatePerMin)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:       cfg,
		orchestrator: deps.Orchestrator,
		alerts:       deps.Alerts,
		scheduler:    deps.Scheduler,
		store:        deps.Store,
		catalog:      deps.Catalog,
		audit:        deps.Audit,
		logger:       logger,
		limiter:      limiter,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start starts listening. Non-blocking; use Wait to block.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	if s.audit != nil {
		_ = s.audit.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
			WithDescription(fmt.Sprintf("listening on %s", s.httpServer.Addr)))
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown error", zap.Error(err))
		}
	}

	s.cancel()
	s.wg.Wait()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.audit != nil {
		_ = s.audit.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown))
	}
	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Handler returns the configured route set. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHandlers(mux)
	return mux
}

// limited wraps a handler with the rate limiter when one is configured.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Wrap(h)
}

// registerHandlers registers all HTTP routes.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Operational endpoints
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Query pipeline, rate limited per client when configured.
	mux.HandleFunc("POST /api/v1/query", s.limited(s.handleQuery))
	mux.HandleFunc("GET /ws/query", s.limited(s.handleQueryWebSocket))

	// Metric catalog
	mux.HandleFunc("GET /api/v1/catalog", s.handleCatalog)

	// Alert lifecycle
	if s.alerts != nil {
		mux.HandleFunc("GET /api/v1/alerts", s.handleAlertList)
		mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleAlertGet)
		mux.HandleFunc("POST /api/v1/alerts/{id}/investigate", s.handleAlertInvestigate)
		mux.HandleFunc("POST /api/v1/alerts/{id}/dismiss", s.handleAlertDismiss)
		mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleAlertResolve)
	}

	// Scan engine controls
	if s.scheduler != nil {
		mux.HandleFunc("POST /api/v1/scans/run", s.handleScanRun)
		mux.HandleFunc("GET /api/v1/scans/status", s.handleScanStatus)
		mux.HandleFunc("GET /api/v1/scans/history", s.handleScanHistory)
	}
}
