// Package health runs dependency checks for the readiness probe.
package health

import (
	"context"
	"log/slog"
	"sync"
)

// Check results reported per probe.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDegraded = "degraded"
)

// Checker is anything that can report its own health.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// Probe names a checker. A failing critical probe makes the service not
// ready; a failing non-critical one is reported as degraded.
type Probe struct {
	Name     string
	Checker  Checker
	Critical bool
}

// Report is the combined result of a set of probes.
type Report struct {
	Ready  bool
	Checks map[string]string
}

// Run executes all probes concurrently under ctx.
func Run(ctx context.Context, probes []Probe) Report {
	report := Report{Ready: true, Checks: make(map[string]string, len(probes))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			err := p.Checker.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Checks[p.Name] = StatusOK
			case p.Critical:
				report.Checks[p.Name] = StatusError
				report.Ready = false
				slog.WarnContext(ctx, "health check failed",
					slog.String("check", p.Name),
					slog.String("error", err.Error()))
			default:
				report.Checks[p.Name] = StatusDegraded
				slog.InfoContext(ctx, "health check degraded",
					slog.String("check", p.Name),
					slog.String("error", err.Error()))
			}
		}(p)
	}
	wg.Wait()

	return report
}
