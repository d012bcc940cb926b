// Package server contains the HTTP API server for scribeq.
package server

import (
	"context"
	"net/http"
	"time"

	"scribeq/internal/server/handlers"
	"scribeq/internal/server/middleware"
)

// Config holds server tuning knobs.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
	MetricsHandler http.Handler
}

// Server is the HTTP server for the scribeq API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server.
func New(cfg Config, h *handlers.Handlers) *Server {
	limitMW := middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst)

	mux := http.NewServeMux()

	mux.Handle("POST /jobs", limitMW(http.HandlerFunc(h.SubmitJob)))
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.Handle("DELETE /jobs/{id}", limitMW(http.HandlerFunc(h.DeleteJob)))
	mux.HandleFunc("GET /queue", h.QueueStatus)
	mux.HandleFunc("GET /backend/health", h.BackendHealth)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestIDMiddleware(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
