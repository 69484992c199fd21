// Package metrics provides process-wide Prometheus instrumentation for the
// HTTP executor, LLM gateway, and the management HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_http_requests_total",
			Help: "Total number of management API HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_http_request_duration_seconds",
			Help:    "Duration of management API HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	executorAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_executor_attempts_total",
			Help: "Total number of monitored endpoint attempts, by outcome.",
		},
		[]string{"method", "outcome"},
	)
	executorAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_executor_attempt_duration_seconds",
			Help:    "Duration of individual monitored endpoint attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "outcome"},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_gateway_calls_total",
			Help: "Total number of LLM gateway calls, by outcome.",
		},
		[]string{"outcome"},
	)
	gatewayCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_gateway_call_duration_seconds",
			Help:    "Duration of LLM gateway calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	gatewayTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_gateway_tokens_total",
			Help: "Total tokens consumed by LLM gateway calls.",
		},
	)
)

var (
	once     sync.Once
	registry *prometheus.Registry
)

// Init registers every collector exactly once and returns the registry.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			httpRequestsTotal,
			httpRequestDurationSeconds,
			executorAttemptsTotal,
			executorAttemptDurationSeconds,
			gatewayCallsTotal,
			gatewayCallDurationSeconds,
			gatewayTokensTotal,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// Handler serves the Prometheus exposition format over the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request count and latency for the management API.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lw, r)

		duration := time.Since(start).Seconds()
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(lw.statusCode)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPExecutorAttempt records one executor attempt's outcome and
// duration. outcome is one of "response" (a status code was observed) or
// "transport_error" (no status was observed, the attempt is retryable).
func ObserveHTTPExecutorAttempt(method, outcome string, durationSeconds float64) {
	Init()
	executorAttemptsTotal.WithLabelValues(method, outcome).Inc()
	executorAttemptDurationSeconds.WithLabelValues(method, outcome).Observe(durationSeconds)
}

// ObserveGatewayCall records one LLM gateway call's outcome, duration, and
// token usage.
func ObserveGatewayCall(outcome string, durationSeconds float64, tokens int) {
	Init()
	gatewayCallsTotal.WithLabelValues(outcome).Inc()
	gatewayCallDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
	if tokens > 0 {
		gatewayTokensTotal.Add(float64(tokens))
	}
}
