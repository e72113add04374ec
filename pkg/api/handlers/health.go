package handlers

import (
	"net/http"

	"github.com/goclaw/conductor/pkg/api/response"
	"github.com/goclaw/conductor/pkg/version"
)

// Readiness reports whether the orchestrator is consuming responses.
type Readiness interface {
	Started() bool
}

// HealthHandler handles the health probe.
type HealthHandler struct {
	ready Readiness
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(ready Readiness) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health handles GET /healthz. It returns 503 until the orchestrator has
// attached its subscriptions.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready.Started() {
		response.JSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "starting", Version: version.Version})
		return
	}
	response.JSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: version.Version})
}
