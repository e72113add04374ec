// Package api provides the control HTTP surface of conductor.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goclaw/conductor/config"
	"github.com/goclaw/conductor/pkg/api/handlers"
	"github.com/goclaw/conductor/pkg/api/middleware"
	"github.com/goclaw/conductor/pkg/api/response"
	"github.com/goclaw/conductor/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Execution handles workflow execution endpoints.
	Execution *handlers.ExecutionHandler

	// Health handles the health probe.
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg config.ServerConfig, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RateLimit(cfg.RateLimit))
	r.Use(middleware.Timeout(cfg.WriteTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "method not allowed", middleware.GetRequestID(r.Context()))
	})

	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.Health != nil {
		r.Get("/healthz", h.Health.Health)
	}

	if h.Execution == nil {
		return
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/workflows/{name}/executions", h.Execution.StartExecution)
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.Execution.ListExecutions)
			r.Get("/{id}", h.Execution.GetExecution)
			r.Post("/{id}/terminate", h.Execution.TerminateExecution)
		})
	})
}
