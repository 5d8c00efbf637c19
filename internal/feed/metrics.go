package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricLiveConnections  = "feed_live_connections"
	MetricActivitiesTotal  = "feed_activities_recorded_total"
	MetricDeliveredTotal   = "feed_live_messages_delivered_total"
	MetricDroppedTotal     = "feed_live_messages_dropped_total"
	MetricRecordErrorTotal = "feed_record_errors_total"
)

// Metrics contains Prometheus metrics for the feed.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections  prometheus.Gauge
	activities   prometheus.Counter
	delivered    prometheus.Counter
	dropped      prometheus.Counter
	recordErrors prometheus.Counter
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLiveConnections,
			Help: "Number of open live feed websocket connections",
		}),
		activities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricActivitiesTotal,
			Help: "Total number of feed activities recorded",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDeliveredTotal,
			Help: "Total number of live feed messages queued to connected followers",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDroppedTotal,
			Help: "Total number of live feed messages dropped because a client fell behind",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecordErrorTotal,
			Help: "Total number of ranking activities that failed to persist",
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
		m.connections,
		m.activities,
		m.delivered,
		m.dropped,
		m.recordErrors,
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) incActivities() {
	if m != nil {
		m.activities.Inc()
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incRecordErrors() {
	if m != nil {
		m.recordErrors.Inc()
	}
}
