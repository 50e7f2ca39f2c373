// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors shared by every background job.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skips    *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors with the given registerer. A nil
// registerer selects the process-wide default exactly once, so jobs
// constructed without explicit metrics share one set of collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

// Track starts timing one run of the named job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// Tracker times a single job run from Track to End.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// End records the run's duration and outcome. It hands the error back so
// callers can end a run inside a defer without losing the result.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	elapsed := time.Since(t.start)
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(elapsed.Seconds())
	return err
}

// AddSkip counts a scheduled run that decided not to execute, labelled
// with the gate that stopped it.
func (m *Metrics) AddSkip(job, reason string) {
	if m == nil || job == "" || reason == "" {
		return
	}
	m.skips.WithLabelValues(job, reason).Inc()
}

func register(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beanledger_jobs_total",
		Help: "Job executions by job name and final status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beanledger_jobs_failures_total",
		Help: "Failed job executions by job name.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "beanledger_job_duration_seconds",
		Help: "Wall-clock duration of job executions.",
		// Imports call Square over HTTP, so runs outlast the default buckets.
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job"})
	skips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beanledger_jobs_skipped_total",
		Help: "Scheduled runs skipped before execution, by reason.",
	}, []string{"job", "reason"})
	registerer.MustRegister(runs, failures, duration, skips)
	return &Metrics{runs: runs, failures: failures, duration: duration, skips: skips}
}
