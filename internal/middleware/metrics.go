package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRateLimitRequests     = "rate_limit_requests_total"
	MetricRateLimitBlocked      = "rate_limit_blocked_total"
	MetricRateLimitStoreErrors  = "rate_limit_store_errors_total"
	MetricIdempotentReplays     = "idempotent_replays_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestsInFlight  = "http_requests_in_flight"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

var httpLabels = []string{"method", "path", "status"}

// Metrics holds the collectors for the HTTP middleware. A nil *Metrics
// records nothing, so every middleware accepts one.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitStoreErrors prometheus.Counter
	idempotentReplays    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpInFlight         prometheus.Gauge
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates the collectors. Call Register to expose them.
func NewMetrics() *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(100, 10, 6) // 100 B to 10 MB
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, httpLabels)
	}

	return &Metrics{
		rateLimitRequests: counter(MetricRateLimitRequests,
			"Rate limit checks by route and key type", "endpoint", "key_type"),
		rateLimitBlocked: counter(MetricRateLimitBlocked,
			"Requests refused with 429 by route and key type", "endpoint", "key_type"),
		rateLimitStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRateLimitStoreErrors,
			Help: "Requests let through because the rate limit store failed",
		}),
		idempotentReplays: counter(MetricIdempotentReplays,
			"Stored responses replayed for a repeated Idempotency-Key", "path"),
		httpRequestDuration: histogram(MetricHTTPRequestDuration,
			"HTTP request duration in seconds", []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequestsTotal,
			Help: "HTTP requests by method, route and status",
		}, httpLabels),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricHTTPRequestsInFlight,
			Help: "HTTP requests currently being served",
		}),
		httpRequestSize:  histogram(MetricHTTPRequestSizeBytes, "HTTP request body size in bytes", sizeBuckets),
		httpResponseSize: histogram(MetricHTTPResponseSizeBytes, "HTTP response body size in bytes", sizeBuckets),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns every collector.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitStoreErrors,
		m.idempotentReplays,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpInFlight,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}

// IncRateLimitRequests counts a rate limit check. keyType is "user" or "ip".
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	if m != nil {
		m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
	}
}

// IncRateLimitBlocked counts a refused request.
func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	if m != nil {
		m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
	}
}

// IncRateLimitStoreErrors counts a fail-open event.
func (m *Metrics) IncRateLimitStoreErrors() {
	if m != nil {
		m.rateLimitStoreErrors.Inc()
	}
}

// IncIdempotentReplays counts a replayed response.
func (m *Metrics) IncIdempotentReplays(path string) {
	if m != nil {
		m.idempotentReplays.WithLabelValues(path).Inc()
	}
}

// trackInFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) trackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.httpInFlight.Inc()
	return m.httpInFlight.Dec
}

// ObserveHTTPRequest records one finished request. path must already be
// normalized.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "path": path, "status": status}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}
