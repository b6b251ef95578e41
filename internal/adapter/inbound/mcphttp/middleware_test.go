package mcphttp

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDMiddlewareGeneratesIDWhenAbsent(t *testing.T) {
	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
	})
	h := RequestIDMiddleware(discardLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotID == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get("X-Request-Id") != gotID {
		t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-Id"), gotID)
	}
}

func TestRequestIDMiddlewarePreservesIncomingID(t *testing.T) {
	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
	})
	h := RequestIDMiddleware(discardLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req_fixed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotID != "req_fixed" {
		t.Errorf("request id = %q, want req_fixed", gotID)
	}
}

func TestDNSRebindingProtectionBlocksUnknownOrigin(t *testing.T) {
	h := DNSRebindingProtection([]string{"https://allowed.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestDNSRebindingProtectionAllowsNoOrigin(t *testing.T) {
	h := DNSRebindingProtection(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestDNSRebindingProtectionAllowsListedOrigin(t *testing.T) {
	h := DNSRebindingProtection([]string{"https://allowed.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://allowed.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRealIPMiddlewarePrefersForwardedFor(t *testing.T) {
	var gotIP string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = RealIPFromContext(r.Context())
	})
	h := RealIPMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotIP != "203.0.113.5" {
		t.Errorf("ip = %q, want 203.0.113.5", gotIP)
	}
}

func TestRealIPMiddlewareFallsBackToRemoteAddr(t *testing.T) {
	var gotIP string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = RealIPFromContext(r.Context())
	})
	h := RealIPMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.9:4321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotIP != "198.51.100.9" {
		t.Errorf("ip = %q, want 198.51.100.9", gotIP)
	}
}

func TestCredentialsMiddlewareExtractsAPIKeyWithPrefix(t *testing.T) {
	var got credentials
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = credentialsFromContext(r.Context())
	})
	h := CredentialsMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer cyfr_abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.rawAPIKey != "cyfr_abc123" {
		t.Errorf("rawAPIKey = %q, want cyfr_abc123", got.rawAPIKey)
	}
}

func TestCredentialsMiddlewareIgnoresNonPrefixedBearer(t *testing.T) {
	var got credentials
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = credentialsFromContext(r.Context())
	})
	h := CredentialsMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some-other-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.rawAPIKey != "" {
		t.Errorf("rawAPIKey = %q, want empty", got.rawAPIKey)
	}
}

func TestCredentialsMiddlewareExtractsSessionHeader(t *testing.T) {
	var got credentials
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = credentialsFromContext(r.Context())
	})
	h := CredentialsMiddleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(MCPSessionIDHeader, "sess-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got.sessionID != "sess-1" {
		t.Errorf("sessionID = %q, want sess-1", got.sessionID)
	}
}

func TestApiKeyConnectionIDIsStableAndPrefixed(t *testing.T) {
	a := apiKeyConnectionID("cyfr_foo")
	b := apiKeyConnectionID("cyfr_foo")
	c := apiKeyConnectionID("cyfr_bar")

	if a != b {
		t.Error("expected deterministic output for the same key")
	}
	if a == c {
		t.Error("expected different keys to produce different ids")
	}
	if a[:4] != "mcp-" {
		t.Errorf("id = %q, want mcp- prefix", a)
	}
}
