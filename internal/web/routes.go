package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	cfg := s.deps.Config.Current().Server

	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.deps.Embedding)
	staffHandler := handlers.NewStaffHandler(s.deps.Registry)
	recognizeHandler := handlers.NewRecognizeHandler(s.baseCtx, s.deps.Resolver, s.jobManager,
		cfg.MaxConcurrentVideos, cfg.VideoTimeout)
	configHandler := handlers.NewConfigHandler(s.deps.Config)
	filesHandler := handlers.NewFilesHandler(s.deps.Storage)

	api := func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", healthHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Use(middleware.RequireToken(s.deps.Config))

			// Registration and staff
			r.Post("/register", staffHandler.Register)
			r.Post("/staff/delete", staffHandler.Delete)
			r.Get("/staff", staffHandler.List)
			r.Get("/staff/{staffId}", staffHandler.Get)

			// Attendance
			r.Post("/recognize", recognizeHandler.Recognize)
			r.Post("/recognize/jobs", recognizeHandler.StartJob)
			r.Get("/recognize/jobs", recognizeHandler.ListJobs)
			r.Get("/recognize/jobs/{jobId}", recognizeHandler.JobStatus)
			r.Get("/recognize/jobs/{jobId}/events", recognizeHandler.Events)
			r.Delete("/recognize/jobs/{jobId}", recognizeHandler.Cancel)

			// Files
			r.Post("/files/{category}", filesHandler.Upload)
			r.Get("/files/{category}", filesHandler.List)

			// Config
			r.Get("/config", configHandler.Get)
			r.Get("/config/get", configHandler.Get)
			r.Post("/config/update", configHandler.Update)
		})
	}

	s.router.Route("/api/v1", api)
	// path used by existing attendance clients
	s.router.Route("/api/v_1", api)
}
