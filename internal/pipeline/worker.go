package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/TobiSchelling/contentforge/internal/dispatch"
)

// DefaultJobTimeout bounds one Execute call.
const DefaultJobTimeout = 10 * time.Minute

// Worker runs jobs from a queue, or detached from a request, with a per-job timeout.
type Worker struct {
	exec        *Executor
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewWorker creates a worker pool around an executor.
func NewWorker(exec *Executor, concurrency int, timeout time.Duration, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{exec: exec, concurrency: concurrency, timeout: timeout, logger: logger}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, q dispatch.Queue) error {
	w.logger.Info("worker started", "concurrency", w.concurrency, "job_timeout", w.timeout)
	return q.Consume(ctx, w.concurrency, w.Handle)
}

// Handle executes one job under the job timeout. A job already claimed elsewhere is not an error.
func (w *Worker) Handle(ctx context.Context, jobID string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.exec.Execute(ctx, jobID)
	if errors.Is(err, ErrJobNotPending) {
		return nil
	}
	return err
}

// Submit runs a job in the background, detached from the caller's cancellation.
func (w *Worker) Submit(ctx context.Context, jobID string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Handle(context.WithoutCancel(ctx), jobID); err != nil {
			w.logger.Warn("detached job ended with error", "job_id", jobID, "error", err)
		}
	}()
}

// Wait blocks until every submitted job has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}
