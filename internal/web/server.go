// Package web provides the HTTP front end that converts uploaded Apple
// Health archives to CSV.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/healthexport/internal/config"
	"github.com/JonMunkholm/healthexport/internal/core"
	"github.com/JonMunkholm/healthexport/internal/schema"
	"github.com/JonMunkholm/healthexport/internal/web/middleware"
)

// Server is the HTTP server for archive conversion.
type Server struct {
	cfg      *config.Config
	limiter  *core.ConversionLimiter
	metrics  *Metrics
	registry *prometheus.Registry
	router   *chi.Mux
	server   *http.Server
	draining atomic.Bool
}

// NewServer creates a Server from cfg. Each Server owns its own metrics
// registry.
func NewServer(cfg *config.Config) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		cfg:      cfg,
		limiter:  core.NewConversionLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		metrics:  NewMetrics(reg),
		registry: reg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Server.TrustedProxyList()))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	maxMB := s.cfg.Upload.MaxFileSize / (1024 * 1024)
	s.router.Get("/", templ.Handler(indexPage(schema.Columns(), maxMB, s.defaultMode())).ServeHTTP)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Server.APIKeyList()))
		r.Get("/schema", s.handleSchema)
		r.Post("/convert", s.handleConvert)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown stops accepting conversions, then closes the listener and waits
// for the ones already running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	if active := s.limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for conversions to complete", "active", active)
		if derr := s.limiter.WaitForDrain(ctx); derr != nil {
			slog.Warn("conversions did not complete in time", "error", derr)
		}
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) defaultMode() string {
	if s.cfg.Export.Mode == "" {
		return config.ModeFixed
	}
	return s.cfg.Export.Mode
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON. Encoding errors are logged since headers are
// already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
