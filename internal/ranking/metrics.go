package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricInsertionsTotal         = "ranking_insertions_total"
	MetricComparisonsTotal        = "ranking_comparisons_total"
	MetricComparisonsPerInsertion = "ranking_comparisons_per_insertion"
	MetricSessionsStartedTotal    = "ranking_sessions_started_total"
	MetricSessionsEndedTotal      = "ranking_sessions_ended_total"
	MetricTargetUnavailableTotal  = "ranking_comparison_target_unavailable_total"
	MetricRemovalsTotal           = "ranking_removals_total"
)

// Insertion modes used as the "mode" label.
const (
	InsertModeDirect = "direct"
	InsertModeSearch = "search"
)

// Session end reasons used as the "reason" label.
const (
	EndReasonInserted  = "inserted"
	EndReasonCancelled = "cancelled"
	EndReasonReplaced  = "replaced"
	EndReasonAborted   = "aborted"
)

// Metrics contains Prometheus metrics for the insertion engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	insertions              *prometheus.CounterVec
	comparisons             prometheus.Counter
	comparisonsPerInsertion prometheus.Histogram
	sessionsStarted         prometheus.Counter
	sessionsEnded           *prometheus.CounterVec
	targetUnavailable       prometheus.Counter
	removals                prometheus.Counter
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		insertions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricInsertionsTotal,
			Help: "Total number of movies inserted into ranked lists",
		}, []string{"mode"}),
		comparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricComparisonsTotal,
			Help: "Total number of pairwise comparisons submitted",
		}),
		comparisonsPerInsertion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricComparisonsPerInsertion,
			Help:    "Number of comparisons needed to place a movie",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12},
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsStartedTotal,
			Help: "Total number of comparison sessions opened",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSessionsEndedTotal,
			Help: "Total number of comparison sessions closed, by reason",
		}, []string{"reason"}),
		targetUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTargetUnavailableTotal,
			Help: "Total number of sessions whose pivot no longer existed in the ranked list",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRemovalsTotal,
			Help: "Total number of entries removed from ranked lists",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.insertions,
		m.comparisons,
		m.comparisonsPerInsertion,
		m.sessionsStarted,
		m.sessionsEnded,
		m.targetUnavailable,
		m.removals,
	}
}

func (m *Metrics) observeInsertion(mode string, comparisons int) {
	if m == nil {
		return
	}
	m.insertions.WithLabelValues(mode).Inc()
	if mode == InsertModeSearch {
		m.comparisonsPerInsertion.Observe(float64(comparisons))
	}
}

func (m *Metrics) incComparisons() {
	if m == nil {
		return
	}
	m.comparisons.Inc()
}

func (m *Metrics) incSessionsStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
}

func (m *Metrics) incSessionsEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) incTargetUnavailable() {
	if m == nil {
		return
	}
	m.targetUnavailable.Inc()
}

func (m *Metrics) incRemovals() {
	if m == nil {
		return
	}
	m.removals.Inc()
}
