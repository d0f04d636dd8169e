package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const namespace = "cmdrouter"

// HTTPServerMetrics owns the API registry. It also implements the domain telemetry port, labelled with the
// service name given at construction.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
	gateRejections  *prometheus.CounterVec

	classificationsTotal *prometheus.CounterVec
	cacheLookupsTotal    *prometheus.CounterVec
	ragRequestsTotal     *prometheus.CounterVec
	ragRetrievedChunks   *prometheus.HistogramVec
	ragDuration          *prometheus.HistogramVec
	llmTokensTotal       *prometheus.CounterVec
	toolCallsTotal       *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	gateRejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rejections_total",
			Help:      "Requests rejected before dispatch, by gate.",
		},
		[]string{"service", "gate", "route"},
	)
	classificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "classifications_total",
			Help:      "Commands classified, by parsed kind.",
		},
		[]string{"service", "kind"},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Semantic cache lookups by result.",
		},
		[]string{"service", "result"},
	)
	ragRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "RAG pipeline runs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	ragRetrievedChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieved_chunks",
			Help:      "Distribution of passages used per RAG run.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"service"},
	)
	ragDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "duration_seconds",
			Help:      "RAG execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Approximate token usage by direction.",
		},
		[]string{"service", "direction", "model"},
	)
	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and status.",
		},
		[]string{"service", "tool", "status"},
	)

	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per outbound operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		gateRejections,
		classificationsTotal,
		cacheLookupsTotal,
		ragRequestsTotal,
		ragRetrievedChunks,
		ragDuration,
		llmTokensTotal,
		toolCallsTotal,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		gateRejections:       gateRejections,
		classificationsTotal: classificationsTotal,
		cacheLookupsTotal:    cacheLookupsTotal,
		ragRequestsTotal:     ragRequestsTotal,
		ragRetrievedChunks:   ragRetrievedChunks,
		ragDuration:          ragDuration,
		llmTokensTotal:       llmTokensTotal,
		toolCallsTotal:       toolCallsTotal,
		breakerState:         breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware must be mounted inside a chi router so the matched route pattern is available as the path label.
func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		path := routePattern(r)
		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded: unmatched paths collapse into one value.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (m *HTTPServerMetrics) RecordGateRejection(gate, route string) {
	m.gateRejections.WithLabelValues(m.service, gate, route).Inc()
}

func (m *HTTPServerMetrics) RecordClassification(kind domain.CommandKind) {
	m.classificationsTotal.WithLabelValues(m.service, string(kind)).Inc()
}

func (m *HTTPServerMetrics) RecordCacheLookup(result string) {
	if result == "" {
		result = "unknown"
	}
	m.cacheLookupsTotal.WithLabelValues(m.service, result).Inc()
}

func (m *HTTPServerMetrics) RecordRAGObservation(outcome string, sourceCount int, duration time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ragRequestsTotal.WithLabelValues(m.service, outcome).Inc()
	m.ragRetrievedChunks.WithLabelValues(m.service).Observe(float64(sourceCount))
	m.ragDuration.WithLabelValues(m.service, outcome).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordTokenUsage(model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, "out", model).Add(float64(completionTokens))
	}
}

func (m *HTTPServerMetrics) RecordToolCall(tool, status string) {
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.toolCallsTotal.WithLabelValues(m.service, tool, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

// RecordBreakerState takes the numeric gobreaker state.
func (m *HTTPServerMetrics) RecordBreakerState(operation string, state int) {
	m.breakerState.WithLabelValues(m.service, operation).Set(float64(state))
}
