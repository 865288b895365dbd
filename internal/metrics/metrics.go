// Package metrics provides Prometheus instrumentation for the broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransitionsTotal counts committed status transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_transitions_total",
		Help: "Committed order status transitions",
	}, []string{"from", "to"})

	// SettlementsTotal counts settlements by result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_settlements_total",
		Help: "Transactions settled",
	}, []string{"result"})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_settlement_latency_seconds",
		Help:    "Time to compute and commit a settlement",
		Buckets: prometheus.DefBuckets,
	})

	// FillEventsTotal counts appended fill-ledger events by type.
	FillEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_fill_events_total",
		Help: "Fill ledger events appended",
	}, []string{"type"})

	// PreconditionFailures counts rejected operations by guard.
	PreconditionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_precondition_failures_total",
		Help: "Operations rejected by a workflow or settlement guard",
	}, []string{"guard"})

	// ConcurrentModifications counts lost status compare-and-sets.
	ConcurrentModifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_concurrent_modifications_total",
		Help: "Transitions that lost the status compare-and-set",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so ids don't explode cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
