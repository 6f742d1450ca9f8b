// Package web serves the attendance HTTP API.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/storage"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// Deps are the services the API is built on.
type Deps struct {
	Config    *config.Holder
	Store     database.VectorStore
	Resolver  *attendance.Resolver
	Registry  *attendance.Registry
	Storage   *storage.Manager
	Embedding handlers.Pinger // optional
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	jobManager *handlers.JobManager
	limiter    *middleware.RateLimiter
	// baseCtx is cancelled on shutdown to stop background jobs.
	baseCtx    context.Context
	cancelJobs context.CancelFunc
}

// NewServer creates a new web server listening on the configured address
func NewServer(deps Deps) *Server {
	cfg := deps.Config.Current().Server
	r := chi.NewRouter()
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		deps:       deps,
		router:     r,
		jobManager: handlers.NewJobManager(),
		limiter:    middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		baseCtx:    baseCtx,
		cancelJobs: cancel,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // uploads
		IdleTimeout:       60 * time.Second,
		// no WriteTimeout: synchronous video analysis and SSE streams are long
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels running video jobs and waits
// for in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")

	s.cancelJobs()
	s.jobManager.CancelAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
