// Package telemetry exposes prometheus metrics and optional OTLP tracing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "essaygen"

// Metrics implements llm.Observer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	ready       prometheus.Gauge
	fallback    prometheus.Gauge
	essays      *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry, plus the Go and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_invocations_total",
			Help:      "Model invocations by call and outcome.",
		}, []string{"call", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_attempts_total",
			Help:      "Individual model attempts, retries included.",
		}, []string{"call"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_invocation_seconds",
			Help:      "Wall time of a model invocation including retry delays.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"call"}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_ready",
			Help:      "1 when distilled context is loaded.",
		}),
		fallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "context_fallback",
			Help:      "1 when the loaded context is the raw source records.",
		}),
		essays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "essay_requests_total",
			Help:      "Essay requests by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.invocations, m.attempts, m.duration, m.ready, m.fallback, m.essays,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveAttempt(call string, _ int, _ error) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(call).Inc()
}

func (m *Metrics) ObserveInvocation(call, outcome string, _ int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(call, outcome).Inc()
	m.duration.WithLabelValues(call).Observe(elapsed.Seconds())
}

// SetContextState records the startup outcome.
func (m *Metrics) SetContextState(ready, fallback bool) {
	if m == nil {
		return
	}
	m.ready.Set(boolGauge(ready))
	m.fallback.Set(boolGauge(fallback))
}

// ObserveEssay counts one /generate request.
func (m *Metrics) ObserveEssay(outcome string) {
	if m == nil {
		return
	}
	m.essays.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
