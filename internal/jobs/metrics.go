// Package jobs runs periodic maintenance tasks and records their outcome.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job names, used as the job_type label.
const (
	JobTypeSessionSweep       = "ranking_session_sweep"
	JobTypeIdempotencyCleanup = "idempotency_cleanup"
	JobTypeRateLimitCleanup   = "rate_limit_cleanup"
)

// Run outcomes and failure kinds.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	ErrorTypeTimeout = "timeout"
	ErrorTypeFailed  = "failed"
)

// Metrics counts runs per job. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
	items    *prometheus.CounterVec
}

// NewMetrics creates the collectors; Register exposes them.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_jobs_total",
			Help: "Background job runs by job type and status.",
		}, []string{"job_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "background_jobs_duration_seconds",
			Help:    "Background job run time by job type.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"job_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_job_errors_total",
			Help: "Failed background job runs by job type and error type.",
		}, []string{"job_type", "error_type"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "background_job_items_total",
			Help: "Sessions, keys and buckets removed by background jobs.",
		}, []string{"job_type"}),
	}
}

// Collectors lists every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.runs, m.duration, m.failures, m.items}
}

// Register adds the collectors to reg, stopping at the first failure.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeRun(jobType, status string, seconds float64, items int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(jobType, status).Inc()
	m.duration.WithLabelValues(jobType).Observe(seconds)
	if items > 0 {
		m.items.WithLabelValues(jobType).Add(float64(items))
	}
}

func (m *Metrics) incErrors(jobType, errorType string) {
	if m != nil {
		m.failures.WithLabelValues(jobType, errorType).Inc()
	}
}
