package mcphttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instrumentation for the MCP transport,
// generalized from the teacher's internal/adapter/inbound/http/metrics.go
// (same metric shapes, "cyfr" namespace). No metric carries a routed_to
// label.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveSessions  prometheus.Gauge
	PolicyDecisions *prometheus.CounterVec
}

// NewMetrics registers every metric against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: "cyfr", Name: "mcp_requests_total", Help: "Total MCP requests processed"},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{Namespace: "cyfr", Name: "mcp_request_duration_seconds", Help: "MCP request duration in seconds", Buckets: prometheus.DefBuckets},
			[]string{"method"},
		),
		ActiveSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{Namespace: "cyfr", Name: "mcp_active_sessions", Help: "Number of active MCP sessions"},
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{Namespace: "cyfr", Name: "policy_decisions_total", Help: "Total policy consultations"},
			[]string{"result"},
		),
	}
}

// MetricsMiddleware records request count and duration, keyed by the
// HTTP method (and, for the count, the response status). The JSON-RPC
// method is not a label, so initialize and tools/call, both POSTs, are
// counted together.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if m == nil {
				return
			}
			m.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
