// Package httptransport is the thin JSON edge over the core services. It
// carries no business rules: handlers decode, call one operation, and map
// coded errors onto statuses.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mortuary/internal/platform/metrics"
	"mortuary/internal/platform/middleware"
	"mortuary/pkg/platform/httputil"
)

const requestTimeout = 30 * time.Second

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Registrar mounts a route group.
type Registrar interface {
	Register(r chi.Router)
}

type RouterConfig struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Health maps a dependency name to its check; /healthz fails when any does.
	Health   map[string]HealthCheck
	Handlers []Registrar
}

// NewRouter mounts /healthz, /metrics and every handler under /v1 behind
// the actor middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger, cfg.Metrics))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger, cfg.Metrics))

	r.Get("/healthz", healthHandler(cfg.Health))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(middleware.Timeout(requestTimeout))
		v1.Use(middleware.ContentTypeJSON)
		v1.Use(middleware.RequireActor(logger))
		for _, h := range cfg.Handlers {
			h.Register(v1)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
	}
}
