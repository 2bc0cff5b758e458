package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tidemail/tidemail/internal/metrics"
	"github.com/tidemail/tidemail/internal/orchestrator"
)

// Server exposes the campaign read model and the four commands to the
// presentation layer.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
	metrics    *metrics.Metrics
	logger     *slog.Logger
	listenAddr string
}

// NewServer creates the agent API server.
func NewServer(orch *orchestrator.Orchestrator, m *metrics.Metrics, listenAddr string, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		orch:       orch,
		metrics:    m,
		logger:     logger.With("component", "api"),
		listenAddr: listenAddr,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/campaign", s.handleView)
		r.Post("/campaign/start", s.handleStart)
		r.Post("/campaign/pause", s.handlePause)
		r.Post("/campaign/resume", s.handleResume)
		r.Post("/campaign/reset", s.handleReset)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
