package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component check on /health.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricCfg.Enabled {
		r.Handle(s.metricCfg.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Ingest socket; registered at the root so any configured path works.
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/writer", s.handleWriterStats)

		r.Post("/points", s.handleSubmitPoints)

		r.Route("/streams", func(r chi.Router) {
			r.Get("/counts", s.handleStreamCounts)
			r.Get("/{streamID}/points", s.handleRecentPoints)
			r.Post("/{streamID}/{version}", s.handleSubmitData)
		})
	})

	return r
}

// handleHealth runs every registered component check. Any failure turns
// the response into a 503 with status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"mode":       s.submitter.Mode(),
		"components": components,
	})
}
