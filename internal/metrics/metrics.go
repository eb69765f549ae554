package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskscanner"

// Metrics owns a dedicated registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sourceFetches   *prometheus.CounterVec
	sourceLatency   *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	fallbackCalls   *prometheus.CounterVec
	embeddings      *prometheus.CounterVec
	summaryAttempts *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sourceFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Connector fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_seconds",
			Help:      "Connector fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classified documents by method.",
		}, []string{"method"}),
		fallbackCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallback_calls_total",
			Help:      "Generative fallback invocations by outcome.",
		}, []string{"outcome"}),
		embeddings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_total",
			Help:      "Embedding cache lookups by outcome (hit, computed, failed).",
		}, []string{"outcome"}),
		summaryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_attempts_total",
			Help:      "Summary generation attempts by outcome.",
		}, []string{"outcome"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "HTTP request duration by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFetch(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sourceFetches.WithLabelValues(source, outcome).Inc()
	m.sourceLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) Classified(method string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(method).Inc()
}

func (m *Metrics) FallbackCall(outcome string) {
	if m == nil {
		return
	}
	m.fallbackCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Embedding(outcome string) {
	if m == nil {
		return
	}
	m.embeddings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SummaryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.summaryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, status).Observe(d.Seconds())
}
