// Package metrics provides Prometheus metrics for the backend API
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
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fieldgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	// HTTPResponseSize measures HTTP response size in bytes
	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fieldgate",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
)

var (
	// DBConnectionsOpen tracks open database connections
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "connections_open",
			Help:      "Number of open database connections",
		},
	)

	// DBConnectionsInUse tracks database connections currently in use
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "connections_in_use",
			Help:      "Number of database connections currently in use",
		},
	)

	// DBConnectionsIdle tracks idle database connections
	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	// DBConnectionsMaxOpen tracks maximum open database connections
	DBConnectionsMaxOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "connections_max_open",
			Help:      "Maximum number of open database connections",
		},
	)

	// DBSQLInUse tracks connections checked out through database/sql
	DBSQLInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "sql_connections_in_use",
			Help:      "Number of connections in use through database/sql",
		},
	)

	// DBQueryDuration measures database query duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fieldgate",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

var (
	// LoginAttempts counts login attempts by outcome
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"outcome"},
	)

	// RateLimited counts requests rejected by the rate limiter, by key scope
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "auth",
			Name:      "rate_limited_total",
			Help:      "Total number of operations rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	// SessionsActive tracks authenticated client contexts
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "auth",
			Name:      "sessions_active",
			Help:      "Number of authenticated client contexts",
		},
	)

	// Logouts counts logouts by reason (user, idle, revoked)
	Logouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "auth",
			Name:      "logouts_total",
			Help:      "Total number of logouts by reason",
		},
		[]string{"reason"},
	)

	// OTPRequests counts one-time code operations by operation and outcome
	OTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "otp",
			Name:      "requests_total",
			Help:      "Total number of one-time code requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AdminOperations counts management operations by operation and outcome
	AdminOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "admin",
			Name:      "operations_total",
			Help:      "Total number of management operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// SSEConnections tracks open session event streams
	SSEConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldgate",
			Subsystem: "events",
			Name:      "streams_open",
			Help:      "Number of open session event streams",
		},
	)

	// SSEEventsDropped counts events not delivered because a stream fell behind
	SSEEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldgate",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped for slow streams",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// newResponseWriter creates a new responseWriter
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush passes through to the wrapped writer so event streams keep working
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Track in-flight requests
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		// Wrap response writer to capture status and size
		rw := newResponseWriter(w)

		// Process request
		next.ServeHTTP(rw, r)

		// Calculate duration
		duration := time.Since(start).Seconds()

		// Get route pattern for consistent labeling
		path := getRoutePattern(r)

		// Record metrics
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.size))
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
