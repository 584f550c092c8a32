// Package jobmetrics exposes Prometheus collectors for background work.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

// Metrics exposes Prometheus collectors for background jobs and postings.
type Metrics struct {
	runs            *prometheus.CounterVec
	failures        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec
	invalidations   *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObservePosting implements integration.Observer.
func (m *Metrics) ObservePosting(provider integration.ConnectionType, docType integration.DocType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(string(provider), string(docType), outcome).Inc()
	if outcome != integration.OutcomeSkipped {
		m.postingDuration.WithLabelValues(string(provider)).Observe(elapsed.Seconds())
	}
}

// ObserveInvalidation counts one cache invalidation event seen on the bus.
func (m *Metrics) ObserveInvalidation(evt integration.InvalidationEvent) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(evt.Entity).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_integration_postings_total",
		Help: "Posting attempts by provider, document type and outcome.",
	}, []string{"provider", "doc_type", "outcome"})
	postingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_integration_dispatch_duration_seconds",
		Help:    "Time spent dispatching one queue item, external call included.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"provider"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_integration_cache_invalidations_total",
		Help: "Cache invalidation events received, by entity.",
	}, []string{"entity"})
	registerer.MustRegister(runs, failures, duration, postings, postingDuration, invalidations)
	return &Metrics{
		runs:            runs,
		failures:        failures,
		duration:        duration,
		postings:        postings,
		postingDuration: postingDuration,
		invalidations:   invalidations,
	}
}
