// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the daemon's HTTP command surface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/blackbox/internal/api/middleware"
	"github.com/ManuGH/blackbox/internal/daemon"
	"github.com/ManuGH/blackbox/internal/health"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/log"
)

// Runtime is the part of *daemon.Runtime the handlers use.
type Runtime interface {
	Status() (daemon.Status, error)
	CaptureManual(ctx context.Context, reason string) (incident.ID, bool)
	Beat(scope string) error
	IncidentDir() string
}

// Config tunes the router.
type Config struct {
	// TracingService enables request spans when non-empty.
	TracingService string
	// ServeMetrics mounts /metrics on the API router. Leave it off when a
	// separate metrics listener is configured.
	ServeMetrics bool
}

// Server holds the handler dependencies.
type Server struct {
	runtime Runtime
	health  *health.Manager
	cfg     Config
	logger  zerolog.Logger
}

func NewServer(rt Runtime, hm *health.Manager, cfg Config) *Server {
	return &Server{
		runtime: rt,
		health:  hm,
		cfg:     cfg,
		logger:  log.WithComponent("api"),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	if s.cfg.ServeMetrics {
		r.Handle("/metrics", MetricsHandler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.handleListIncidents)
			r.With(middleware.CaptureRateLimit()).Post("/", s.handleCapture)
			r.Get("/{id}", s.handleGetIncident)
			r.Get("/{id}/bundle", s.handleDownloadBundle)
		})
		r.With(middleware.HeartbeatRateLimit()).Post("/heartbeats/{scope}", s.handleHeartbeat)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
