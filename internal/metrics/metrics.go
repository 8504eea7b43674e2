// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DepositsTotal counts BUY transactions recorded.
	DepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hassad_deposits_total",
		Help: "Total number of deposits recorded",
	})

	// LiquidationsTotal counts SELL transactions recorded.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hassad_liquidations_total",
		Help: "Total number of liquidations recorded",
	})

	// PayoutsTotal counts PAYOUT transactions recorded.
	PayoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hassad_payouts_total",
		Help: "Total number of payouts recorded",
	})

	// PriceUpdates counts unit price changes.
	PriceUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hassad_price_updates_total",
		Help: "Total number of unit price updates",
	})

	// MutationConflicts counts per-investor lock retries.
	MutationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hassad_mutation_conflicts_total",
		Help: "Ledger mutations retried after losing the per-investor lock",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hassad_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hassad_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hassad_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
