package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/rankings", "/rankings"},
		{"/rankings/begin", "/rankings/begin"},
		{"/rankings/compare", "/rankings/compare"},
		{"/rankings/603", "/rankings/{itemId}"},
		{"/movies/search", "/movies/search"},
		{"/movies/27205", "/movies/{id}"},
		{"/follows", "/follows"},
		{"/follows/550e8400-e29b-41d4-a716-446655440000", "/follows/{userId}"},
		{"/users/550e8400-e29b-41d4-a716-446655440000/rankings", "/users/{id}/rankings"},
		{"/feed", "/feed"},
		{"/feed/live", "/feed/live"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/movies/", "/other"},
		{"/users/abc", "/users/{id}"},
		{"/users/abc/followers", "/other"},
		{"/wp-admin/setup.php", "/other"},
		{"/rankings/603/extra", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestHTTPMetrics(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		status      int
		wantMetrics bool
	}{
		{"list rankings", http.MethodGet, "/rankings", "", http.StatusOK, true},
		{"begin insertion", http.MethodPost, "/rankings/begin", `{"itemId":603}`, http.StatusOK, true},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, true},
		{"health excluded", http.MethodGet, "/health", "", http.StatusOK, false},
		{"ready excluded", http.MethodGet, "/ready", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics()
			reg := prometheus.NewRegistry()
			if err := m.Register(reg); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}

			wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{}`))
			}))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Length", strconv.Itoa(len(tt.body)))
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			families, err := reg.Gather()
			if err != nil {
				t.Fatalf("Gather() failed: %v", err)
			}
			total := findFamily(families, MetricHTTPRequestsTotal)
			if tt.wantMetrics && total == nil {
				t.Fatal("http_requests_total not recorded")
			}
			if !tt.wantMetrics && total != nil && len(total.GetMetric()) > 0 {
				t.Errorf("expected no metrics for %s", tt.path)
			}
		})
	}
}

func TestHTTPMetrics_Labels(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"duplicate_item"}}`))
	}))

	req := httptest.NewRequest(http.MethodDelete, "/rankings/603", nil)
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	total := findFamily(families, MetricHTTPRequestsTotal)
	if total == nil || len(total.GetMetric()) != 1 {
		t.Fatal("expected exactly one http_requests_total series")
	}

	labels := map[string]string{}
	for _, lp := range total.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	want := map[string]string{"method": "DELETE", "path": "/rankings/{itemId}", "status": "409"}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("label %s = %q, want %q", k, labels[k], v)
		}
	}
}

func TestHTTPMetrics_ResponseSize(t *testing.T) {
	m := NewMetrics()
	body := strings.Repeat("x", 1234)

	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/feed", nil))

	var metric dto.Metric
	obs := m.httpResponseSize.WithLabelValues("GET", "/feed", "200")
	if err := obs.(prometheus.Metric).Write(&metric); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	if got := metric.GetHistogram().GetSampleSum(); got != 1234 {
		t.Errorf("response size sum = %v, want 1234", got)
	}
}

func BenchmarkHTTPMetrics(b *testing.B) {
	m := NewMetrics()
	wrapped := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	req := httptest.NewRequest(http.MethodGet, "/rankings/603", nil)

	b.ReportAllocs()
	for b.Loop() {
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}
