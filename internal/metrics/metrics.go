// Package metrics provides Prometheus instrumentation for the game engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ClicksTotal counts manual crystal clicks, partitioned by whether the
	// click was a critical.
	ClicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energosphere_clicks_total",
		Help: "Total number of crystal clicks processed",
	}, []string{"critical"})

	// GeneratorsPurchased counts generator purchases by type.
	GeneratorsPurchased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energosphere_generators_purchased_total",
		Help: "Total generator units purchased",
	}, []string{"type"})

	// RebirthsTotal counts completed rebirths.
	RebirthsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "energosphere_rebirths_total",
		Help: "Total completed rebirths",
	})

	// MarketTransactions counts settled marketplace trades by item type.
	MarketTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energosphere_market_transactions_total",
		Help: "Total settled marketplace transactions",
	}, []string{"item_type"})

	// WebSocketSessions tracks connected WebSocket clients.
	WebSocketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "energosphere_websocket_sessions",
		Help: "Number of connected WebSocket clients",
	})

	// ActiveEvents tracks currently running global events.
	ActiveEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "energosphere_active_events",
		Help: "Number of currently active global events",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "energosphere_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "energosphere_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is small enough
		// that cardinality stays bounded.
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

// Hijack delegates to the underlying writer so WebSocket upgrades keep
// working on routes mounted behind Middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}
