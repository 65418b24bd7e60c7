// Package metrics provides Prometheus instrumentation for the simulation engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by direction.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_trades_total",
		Help: "Total number of trades executed",
	}, []string{"direction"})

	// TradeRejections counts trades rejected by invariant checks.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_trade_rejections_total",
		Help: "Trades rejected by balance or holdings checks",
	}, []string{"reason"})

	// CommitmentsCreated counts created savings commitments.
	CommitmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "simeng_commitments_created_total",
		Help: "Total number of savings commitments created",
	})

	// CommitmentWithdrawals counts withdrawals by outcome (early, on_time).
	CommitmentWithdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_commitment_withdrawals_total",
		Help: "Commitment withdrawals by outcome",
	}, []string{"outcome"})

	// NudgesEmitted counts advisory nudges handed to the nudge sink.
	NudgesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_nudges_emitted_total",
		Help: "Advisory nudges emitted, by context",
	}, []string{"context"})

	// AdvisoryRuns counts advisory calculator invocations by kind.
	AdvisoryRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_advisory_runs_total",
		Help: "Advisory calculator invocations",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simeng_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "simeng_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "simeng_http_request_duration_seconds",
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

// Hijack forwards to the underlying writer so WebSocket upgrades work through
// the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
