package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const headerTraceID = "X-Trace-ID"

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetflow_http_requests_total",
			Help: "Requests served, broken down by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetflow_http_request_duration_seconds",
			Help:    "Wall-clock seconds spent serving each request.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	inflightGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheetflow_http_inflight_requests",
			Help: "HTTP requests currently being served.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestCounter, requestLatency, inflightGauge)
}

// TraceMiddleware propagates the caller's X-Trace-ID or mints a fresh one,
// stores it on the request context and echoes it back on the response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(headerTraceID)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(headerTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(ContextWithTraceID(r.Context(), traceID)))
	})
}

// LoggingMiddleware emits one structured record per request after the
// handler returns, tagged with the context's trace ID.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tap, r)

			WithTrace(r.Context(), logger).InfoContext(r.Context(), "http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routeLabel(r)),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", tap.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", tap.bytes),
			)
		})
	}
}

// MetricsMiddleware records request counts, latencies and the in-flight
// gauge under the matched route label.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inflightGauge.Inc()
		tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(tap, r)
		inflightGauge.Dec()

		status := strconv.Itoa(tap.status)
		route := routeLabel(r)
		requestCounter.WithLabelValues(r.Method, route, status).Inc()
		requestLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel prefers the matched mux pattern so that IDs embedded in paths
// (file and folder UUIDs) do not fan out into unbounded label values.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// responseTap records the status code and body size on the way through.
// Unwrap exposes the underlying writer so http.ResponseController keeps
// working for handlers that flush.
type responseTap struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (t *responseTap) WriteHeader(status int) {
	t.status = status
	t.ResponseWriter.WriteHeader(status)
}

func (t *responseTap) Write(body []byte) (int, error) {
	n, err := t.ResponseWriter.Write(body)
	t.bytes += n
	return n, err
}

func (t *responseTap) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}
