// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LedgerEntriesRecorded counts persisted ledger entries by transaction type.
	LedgerEntriesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_recorded_total",
		Help: "Total number of ledger entries persisted",
	}, []string{"tx_type"})

	// LedgerRecordings counts recording calls by outcome.
	LedgerRecordings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recordings_total",
		Help: "Ledger recording calls by outcome",
	}, []string{"outcome"})

	// LedgerRecordLatency tracks end-to-end recording latency.
	LedgerRecordLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_record_latency_seconds",
		Help:    "Ledger recording latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// BalanceAccountUpdates counts per-account delta applications.
	BalanceAccountUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_account_updates_total",
		Help: "Per-account balance deltas written to the cache",
	})

	// BalancePostingsSkipped counts postings at or below their account watermark.
	BalancePostingsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_postings_skipped_total",
		Help: "Postings ignored because the account watermark already covers them",
	})

	// BalanceZeroDeltaSkips counts accounts whose batch movement netted to zero.
	BalanceZeroDeltaSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_zero_delta_skips_total",
		Help: "Accounts skipped because their net batch movement was zero",
	})

	// FlushedAccounts counts snapshots written by the flusher.
	FlushedAccounts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "balance_flushed_accounts_total",
		Help: "Account deltas flushed into durable snapshots",
	})

	// DirtyAccounts tracks the dirty-set size seen by the last flush.
	DirtyAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "balance_dirty_accounts",
		Help: "Accounts with unflushed deltas at the last flush",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
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

		// Account codes appear in paths; label by route pattern.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
