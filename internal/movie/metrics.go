package movie

import (
	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Metric names as constants for consistency.
const (
	MetricRequestsTotal       = "tmdb_requests_total"
	MetricRequestDuration     = "tmdb_request_duration_seconds"
	MetricCacheLookupsTotal   = "tmdb_cache_lookups_total"
	MetricBreakerState        = "tmdb_circuit_breaker_state"
	MetricBreakerTransitions  = "tmdb_circuit_breaker_transitions_total"
	MetricBreakerConsecutives = "tmdb_circuit_breaker_consecutive_failures"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Metrics contains Prometheus metrics for the TMDB client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests            *prometheus.CounterVec
	duration            *prometheus.HistogramVec
	cacheLookups        *prometheus.CounterVec
	breakerState        prometheus.Gauge
	breakerTransitions  *prometheus.CounterVec
	consecutiveFailures prometheus.Gauge
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Total number of TMDB calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRequestDuration,
			Help:    "TMDB call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheLookupsTotal,
			Help: "Total number of TMDB response cache lookups by result",
		}, []string{"result"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerState,
			Help: "TMDB circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBreakerTransitions,
			Help: "Total number of TMDB circuit breaker state transitions",
		}, []string{"from", "to"}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricBreakerConsecutives,
			Help: "Consecutive TMDB failures counted by the circuit breaker",
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
		m.requests,
		m.duration,
		m.cacheLookups,
		m.breakerState,
		m.breakerTransitions,
		m.consecutiveFailures,
	}
}

func (m *Metrics) observeRequest(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	if outcome != OutcomeRejected {
		m.duration.WithLabelValues(endpoint).Observe(seconds)
	}
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeTransition(from, to gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(stateToFloat(to))
	m.breakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if to == gobreaker.StateClosed {
		m.consecutiveFailures.Set(0)
	}
}

func (m *Metrics) setState(state gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.Set(stateToFloat(state))
}

func (m *Metrics) setConsecutiveFailures(n uint32) {
	if m == nil {
		return
	}
	m.consecutiveFailures.Set(float64(n))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
