package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/inbound/sse"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/sqlstore"
)

// HealthResponse is the JSON response from the /health endpoint.
// Grounded on internal/adapter/inbound/http/health.go's HealthResponse,
// same shape.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health, generalized from the
// teacher's HealthChecker (in-memory session store + rate limiter +
// audit channel depth) to this service's actual long-lived
// dependencies: the sqlite-backed relational store and the SSE fan-out
// registry.
type HealthChecker struct {
	db       *sqlstore.DB
	sessions *sse.Registry
	version  string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components
// that aren't available (e.g. in tests).
func NewHealthChecker(db *sqlstore.DB, sessions *sse.Registry, version string) *HealthChecker {
	return &HealthChecker{db: db, sessions: sessions, version: version}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.Ping(pingCtx); err != nil {
			checks["relational_store"] = fmt.Sprintf("unreachable: %v", err)
			healthy = false
		} else {
			checks["relational_store"] = "ok"
		}
	} else {
		checks["relational_store"] = "not configured"
	}

	if h.sessions != nil {
		checks["sse_sessions"] = fmt.Sprintf("ok: %d active", h.sessions.Size())
	} else {
		checks["sse_sessions"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
