package mcphttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTransportStartAndShutdown(t *testing.T) {
	transport := NewTransport(nil, nil, nil, WithAddr("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5s after cancel")
	}
}

func TestTransportRoutesHealthAndMCP(t *testing.T) {
	transport := NewTransport(nil, nil, nil, WithExtraHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", "admin")
		w.WriteHeader(http.StatusOK)
	})))
	mux := transport.buildMux(nil)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp2, err := http.Get(server.URL + "/admin/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("X-Handler") != "admin" {
		t.Errorf("GET /admin/ reached handler %q, want admin", resp2.Header.Get("X-Handler"))
	}

	body := `{"jsonrpc":"2.0","method":"initialize","id":1}`
	resp3, err := http.Post(server.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("POST /mcp status = %d, want %d", resp3.StatusCode, http.StatusOK)
	}
}

func TestWithAddrOption(t *testing.T) {
	transport := &Transport{}
	WithAddr("127.0.0.1:9999")(transport)
	if transport.addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q, want 127.0.0.1:9999", transport.addr)
	}
}

func TestWithAllowedOriginsOption(t *testing.T) {
	transport := &Transport{}
	WithAllowedOrigins([]string{"https://example.com"})(transport)
	if len(transport.allowedOrigins) != 1 || transport.allowedOrigins[0] != "https://example.com" {
		t.Errorf("allowedOrigins = %v, want [https://example.com]", transport.allowedOrigins)
	}
}

func TestNewTransportDefaults(t *testing.T) {
	transport := NewTransport(nil, nil, nil)
	if transport.addr != "127.0.0.1:8080" {
		t.Errorf("default addr = %q, want 127.0.0.1:8080", transport.addr)
	}
	if transport.sessions == nil {
		t.Error("expected a default sessions registry")
	}
}
