package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/fieldauth/internal/app/system/tasks"
	"go.uber.org/zap"
)

// Runner runs each job on its own ticker until Stop is called.
type Runner struct {
	jobs    []tasks.Job
	log     *zap.Logger
	timeout time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner. timeout bounds each individual run.
func NewRunner(jobs []tasks.Job, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{jobs: jobs, log: logger, timeout: timeout}
}

// Start launches one goroutine per job. Each job runs once immediately and
// then on every tick.
func (w *Runner) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	for _, job := range w.jobs {
		w.wg.Add(1)
		go w.run(ctx, job)
	}
	w.log.Info("background jobs started", zap.Int("jobs", len(w.jobs)))
}

// Stop cancels every job and waits for in-flight runs to return.
func (w *Runner) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	w.log.Info("background jobs stopped")
}

func (w *Runner) run(ctx context.Context, job tasks.Job) {
	defer w.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	w.once(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.once(ctx, job)
		}
	}
}

func (w *Runner) once(parent context.Context, job tasks.Job) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	if err := job.Run(ctx); err != nil && parent.Err() == nil {
		w.log.Error("background job failed", zap.String("job", job.Name), zap.Error(err))
	}
}
