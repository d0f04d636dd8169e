package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// WorkerMetrics covers the journal worker that persists command-handled events.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	journaled       *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
	deliveryLatency prometheus.Observer
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	m := &WorkerMetrics{registry: prometheus.NewRegistry(), service: service}

	m.journaled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "events_total",
		Help:      "Command events taken from the bus, by command kind and outcome (stored, rejected, failed).",
	}, []string{"service", "kind", "outcome"})
	m.persistDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "persist_duration_seconds",
		Help:      "Time to write one command record, by outcome.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"service", "outcome"})
	m.pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "journal",
		Name:        "events_pending",
		Help:        "Command events being written.",
		ConstLabels: prometheus.Labels{"service": service},
	})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "delivery_latency_seconds",
		Help:      "Delay between the router receiving a command and the worker seeing its event.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"service"})
	m.deliveryLatency = latency.WithLabelValues(service)

	m.registry.MustRegister(m.journaled, m.persistDuration, m.pending, latency)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Track marks one event of the given kind as pending. The returned func records its outcome.
func (m *WorkerMetrics) Track(kind domain.CommandKind) func(err error) {
	m.pending.Inc()
	start := time.Now()
	return func(err error) {
		m.pending.Dec()
		outcome := journalOutcome(err)
		label := string(kind)
		if label == "" {
			label = "unknown"
		}
		m.journaled.WithLabelValues(m.service, label, outcome).Inc()
		m.persistDuration.WithLabelValues(m.service, outcome).Observe(time.Since(start).Seconds())
	}
}

// ObserveDeliveryLatency ignores negative values from skewed clocks.
func (m *WorkerMetrics) ObserveDeliveryLatency(latency time.Duration) {
	if latency >= 0 {
		m.deliveryLatency.Observe(latency.Seconds())
	}
}

func journalOutcome(err error) string {
	switch {
	case err == nil:
		return "stored"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "rejected"
	}
	return "failed"
}
