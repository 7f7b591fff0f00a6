package observability

import (
	"net/http"
	"strconv"
	"time"

	"podbrief/internal/domain"
	"podbrief/internal/providers"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	providerOutcomes      *prometheus.CounterVec
	providerDuration      *prometheus.HistogramVec
	summaryOutcomes       *prometheus.CounterVec
	dispatchErrors        prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podbrief_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podbrief_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podbrief_upstream_requests_total",
				Help: "Total upstream speech recognition and language model API requests.",
			},
			[]string{"endpoint", "status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podbrief_upstream_request_duration_seconds",
				Help:    "Upstream request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "status"},
		),
		providerOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podbrief_transcript_provider_outcomes_total",
				Help: "Transcript provider attempts by provider and outcome (hit, miss, fail).",
			},
			[]string{"provider", "outcome"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podbrief_transcript_provider_duration_seconds",
				Help:    "Time spent in a single transcript provider attempt.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"provider"},
		),
		summaryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podbrief_summary_outcomes_total",
				Help: "Summary jobs reaching a terminal status, by level and status.",
			},
			[]string{"level", "status"},
		),
		dispatchErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "podbrief_dispatch_errors_total",
				Help: "Summary jobs that could not be handed to a background worker.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.providerOutcomes,
		m.providerDuration,
		m.summaryOutcomes,
		m.dispatchErrors,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(endpoint, statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(endpoint, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveProvider(provider string, outcome providers.Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerOutcomes.WithLabelValues(provider, string(outcome)).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func (m *Metrics) ObserveSummary(level domain.Level, status domain.Status) {
	if m == nil {
		return
	}
	m.summaryOutcomes.WithLabelValues(string(level), string(status)).Inc()
}

func (m *Metrics) IncDispatchError() {
	if m == nil {
		return
	}
	m.dispatchErrors.Inc()
}
