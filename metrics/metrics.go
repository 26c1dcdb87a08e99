// Package metrics exposes prometheus instrumentation for ingestion and the
// HTTP surface. All methods are nil-safe so instrumentation stays optional
// in tests and dev tooling.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semgraph/jobs"
)

// Metrics holds the registry and every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	jobsTerminal    *prometheus.CounterVec
	jobsRunning     prometheus.Gauge
	chunksProcessed prometheus.Counter
	conceptsCreated prometheus.Counter
	conceptsLinked  prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		jobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgraph",
			Name:      "jobs_terminal_total",
			Help:      "Jobs finished, by terminal status.",
		}, []string{"status"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semgraph",
			Name:      "jobs_running",
			Help:      "Jobs currently executing in the pipeline.",
		}),
		chunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semgraph",
			Name:      "chunks_processed_total",
			Help:      "Chunks fully committed across all jobs.",
		}),
		conceptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semgraph",
			Name:      "concepts_created_total",
			Help:      "New concepts written to the graph.",
		}),
		conceptsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semgraph",
			Name:      "concepts_linked_total",
			Help:      "Extractions folded into existing concepts.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semgraph",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semgraph",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.jobsTerminal,
		m.jobsRunning,
		m.chunksProcessed,
		m.conceptsCreated,
		m.conceptsLinked,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepth exposes the work queue depth as a gauge backed by fn.
func (m *Metrics) RegisterQueueDepth(fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "semgraph",
		Name:      "queue_depth",
		Help:      "Approved jobs waiting for or held by workers.",
	}, fn))
}

// JobStarted marks a job entering the pipeline.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsRunning.Inc()
}

// JobFinished records the end of a pipeline run. A nil job (reload failure
// or requeue) only releases the running gauge.
func (m *Metrics) JobFinished(job *jobs.Job) {
	if m == nil {
		return
	}
	m.jobsRunning.Dec()
	if job == nil {
		return
	}
	m.jobsTerminal.WithLabelValues(string(job.Status)).Inc()
	if job.Result != nil {
		m.chunksProcessed.Add(float64(job.Result.Counters.ChunksProcessed))
		m.conceptsCreated.Add(float64(job.Result.Counters.ConceptsCreated))
		m.conceptsLinked.Add(float64(job.Result.Counters.ConceptsLinked))
	}
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, code).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
