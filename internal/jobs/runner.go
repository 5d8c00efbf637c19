package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Func does one run of a job and reports how many items it removed.
type Func func(ctx context.Context) (int, error)

// Job is a task run every Interval.
type Job struct {
	Name     string
	Interval time.Duration

	// Timeout bounds a single run. Zero means the run is bounded only by
	// the runner's context.
	Timeout time.Duration

	// RunOnStart runs the job once before the first tick.
	RunOnStart bool

	Fn Func
}

// Runner executes jobs on their intervals until its context ends.
type Runner struct {
	logger  *slog.Logger
	metrics *Metrics
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. Both arguments may be nil.
func NewRunner(logger *slog.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, metrics: metrics}
}

// Start launches each job in its own goroutine. Jobs with a non-positive
// interval are skipped.
func (r *Runner) Start(ctx context.Context, jobs ...Job) {
	for _, job := range jobs {
		if job.Interval <= 0 || job.Fn == nil {
			r.logger.Warn("skipping background job without interval or func", slog.String("job", job.Name))
			continue
		}
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			r.loop(ctx, job)
		}(job)
	}
}

// Wait blocks until every started job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		r.RunOnce(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs job a single time and records the outcome.
func (r *Runner) RunOnce(ctx context.Context, job Job) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	items, err := job.Fn(runCtx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		// Shutdown mid-run is not a failure.
		if ctx.Err() != nil {
			return
		}
		errorType := ErrorTypeFailed
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = ErrorTypeTimeout
		}
		r.metrics.observeRun(job.Name, StatusFailure, elapsed, 0)
		r.metrics.incErrors(job.Name, errorType)
		r.logger.WarnContext(ctx, "background job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()))
		return
	}

	r.metrics.observeRun(job.Name, StatusSuccess, elapsed, items)
	if items > 0 {
		r.logger.DebugContext(ctx, "background job removed items",
			slog.String("job", job.Name),
			slog.Int("items", items))
	}
}
