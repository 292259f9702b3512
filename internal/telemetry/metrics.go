package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediagate"

// Metrics holds the Prometheus collectors for one process. Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls     *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	sessionMints  *prometheus.CounterVec
	mintDuration  prometheus.Histogram
	apiRequests   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	configReloads prometheus.Counter
	jobRuns       *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations by tool and outcome (ok or error kind).",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Wall time of a tool invocation, validation included.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		sessionMints: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_mints_total",
				Help:      "Session mint attempts by result.",
			},
			[]string{"result"},
		),
		mintDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_mint_duration_seconds",
				Help:      "Round trip of a session mint.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		apiRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Requests to the media API by service, action and outcome.",
			},
			[]string{"service", "action", "outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Read-through cache lookups by result.",
			},
			[]string{"result"},
		),
		configReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Configuration reloads triggered by the file watcher.",
			},
		),
		jobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_job_runs_total",
				Help:      "Background job runs by job and result.",
			},
			[]string{"job", "result"},
		),
	}
}

// ObserveCall records one tool invocation. outcome is "ok" or an error kind.
func (m *Metrics) ObserveCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveMint records one session mint attempt. Its signature matches
// session.WithMintObserver.
func (m *Metrics) ObserveMint(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sessionMints.WithLabelValues(result).Inc()
	m.mintDuration.Observe(elapsed.Seconds())
}

// ObserveAPIRequest records one media API request.
func (m *Metrics) ObserveAPIRequest(service, action, outcome string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(service, action, outcome).Inc()
}

// ObserveCache records a cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveReload counts a configuration reload.
func (m *Metrics) ObserveReload() {
	if m == nil {
		return
	}
	m.configReloads.Inc()
}

// ObserveJob records one background job run.
func (m *Metrics) ObserveJob(id string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(id, result).Inc()
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
