package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/payrail/payrail/pkg/api/response"
)

// Checker reports the health of one dependency.
type Checker func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	appName   string
	version   string
	startedAt time.Time
	checks    map[string]Checker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(appName, version string, checks map[string]Checker) *HealthHandler {
	return &HealthHandler{
		appName:   appName,
		version:   version,
		startedAt: time.Now().UTC(),
		checks:    checks,
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). It fails when any
// registered dependency check fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, check := range h.checks {
		if err := check(r.Context()); err != nil {
			response.JSON(w, http.StatusServiceUnavailable, map[string]bool{
				"ready": false,
			})
			return
		}
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	dependencies := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			dependencies[name] = err.Error()
			healthy = false
			continue
		}
		dependencies[name] = "ok"
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"app":            h.appName,
		"version":        h.version,
		"status":         status,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   dependencies,
	})
}
