package mcphttp

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/inbound/sse"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/sqlstore"
	"github.com/cyfrworks/cyfr/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport is the inbound adapter exposing /mcp over Streamable HTTP.
// Grounded on internal/adapter/inbound/http.HTTPTransport, generalized
// from wrapping a single *service.ProxyService to wrapping C13's
// *service.Router plus C7's *service.AuthService and C10's
// *service.AuditLogService.
type Transport struct {
	router         *service.Router
	auth           *service.AuthService
	auditLog       *service.AuditLogService
	sessions       *sse.Registry
	db             *sqlstore.DB
	version        string
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	extraHandler   http.Handler
	metrics        *Metrics
}

// Option configures a Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default "127.0.0.1:8080".
func WithAddr(addr string) Option { return func(t *Transport) { t.addr = addr } }

// WithTLS enables TLS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) { t.certFile, t.keyFile = certFile, keyFile }
}

// WithAllowedOrigins sets the DNS-rebinding-protection allowlist. Empty
// blocks every Origin-bearing request (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) { t.allowedOrigins = origins }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option { return func(t *Transport) { t.logger = logger } }

// WithExtraHandler adds a handler consulted for routes the MCP transport
// doesn't own (e.g. an admin UI).
func WithExtraHandler(h http.Handler) Option { return func(t *Transport) { t.extraHandler = h } }

// WithHealthDeps supplies the dependencies /health pings.
func WithHealthDeps(db *sqlstore.DB, version string) Option {
	return func(t *Transport) { t.db, t.version = db, version }
}

// NewTransport builds a Transport wrapping router, auth, auditLog.
func NewTransport(router *service.Router, auth *service.AuthService, auditLog *service.AuditLogService, opts ...Option) *Transport {
	t := &Transport{
		router:         router,
		auth:           auth,
		auditLog:       auditLog,
		sessions:       sse.NewRegistry(sse.DefaultBacklog),
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting HTTP connections and blocks until ctx is
// cancelled or the server errors. Middleware chain (outermost first):
// Metrics -> RequestID -> RealIP -> DNSRebinding -> Credentials -> Handler,
// the direct generalization of the teacher's
// Metrics -> RequestID -> RealIP -> DNSRebinding -> APIKey chain.
func (t *Transport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	t.metrics = NewMetrics(reg)

	mux := t.buildMux(reg)
	t.server = &http.Server{Addr: t.addr, Handler: mux}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting mcp https server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting mcp http server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down mcp server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// buildMux assembles the route table and middleware chain, split out
// from Start so routing can be exercised in tests without a live
// listener.
func (t *Transport) buildMux(reg *prometheus.Registry) *http.ServeMux {
	deps := Deps{Router: t.router, Auth: t.auth, AuditLog: t.auditLog, Sessions: t.sessions}
	h := mcpHandler(deps)
	h = CredentialsMiddleware(h)
	h = DNSRebindingProtection(t.allowedOrigins)(h)
	h = RealIPMiddleware(h)
	h = RequestIDMiddleware(t.logger)(h)
	h = MetricsMiddleware(t.metrics)(h)

	mux := http.NewServeMux()
	if t.extraHandler != nil {
		mux.Handle("/admin/", t.extraHandler)
		mux.Handle("/admin", t.extraHandler)
	}
	mux.Handle("/health", NewHealthChecker(t.db, t.sessions, t.version).Handler())
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	mux.Handle("/mcp", h)
	mux.Handle("/mcp/", h)
	mux.Handle("/", h)
	return mux
}

func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.sessions.CloseAll()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during mcp server shutdown", "error", err)
		return err
	}
	t.logger.Info("mcp server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
