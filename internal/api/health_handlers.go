package api

import (
	"context"
	"net/http"
	"time"

	"github.com/onnwee/reelrank/internal/health"
)

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	probes  []health.Probe
	timeout time.Duration
	now     func() time.Time
}

// NewHealthHandlers creates a new health check handler. Ready runs probes
// with a 5 second budget.
func NewHealthHandlers(probes []health.Probe) *HealthHandlers {
	return &HealthHandlers{probes: probes, timeout: 5 * time.Second, now: time.Now}
}

// Health handles GET /health (liveness probe). It never touches
// dependencies.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": health.StatusOK},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness probe). A failing critical probe
// answers 503; a failing optional one reports "degraded" with 200.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := health.Run(ctx, h.probes)

	status, code := "healthy", http.StatusOK
	for _, v := range report.Checks {
		if v == health.StatusDegraded {
			status = "degraded"
		}
	}
	if !report.Ready {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, r, code, HealthResponse{
		Status:    status,
		Checks:    report.Checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}
