package mcphttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyfrworks/cyfr/internal/adapter/inbound/sse"
)

func TestHealthCheckerNilComponentsStillHealthy(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "")
	health := hc.Check(context.Background())

	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["relational_store"] != "not configured" {
		t.Errorf("relational_store = %q, want 'not configured'", health.Checks["relational_store"])
	}
	if health.Checks["sse_sessions"] != "not configured" {
		t.Errorf("sse_sessions = %q, want 'not configured'", health.Checks["sse_sessions"])
	}
}

func TestHealthCheckerReportsActiveSessionCount(t *testing.T) {
	reg := sse.NewRegistry(sse.DefaultBacklog)
	reg.Publish("sess-1", []byte(`{}`))

	hc := NewHealthChecker(nil, reg, "1.0.0")
	health := hc.Check(context.Background())

	if health.Checks["sse_sessions"] != "ok: 1 active" {
		t.Errorf("sse_sessions = %q, want 'ok: 1 active'", health.Checks["sse_sessions"])
	}
}

func TestHealthCheckerHandlerReturns200WhenHealthy(t *testing.T) {
	hc := NewHealthChecker(nil, nil, "1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Version != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", resp.Version)
	}
}
