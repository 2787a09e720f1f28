package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

var jobsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "promidata_queue_jobs_total",
		Help: "Jobs processed per queue and outcome.",
	},
	[]string{"queue", "outcome"},
)

var jobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "promidata_queue_job_duration_seconds",
		Help:    "Job handler duration per queue.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	},
	[]string{"queue"},
)

// Handler processes one job and returns its result.
type Handler func(ctx context.Context, job *Job) (any, error)

const (
	dequeueWait   = 2 * time.Second
	pausedBackoff = time.Second
	promoteEvery  = time.Second

	// bookkeepingTimeout bounds the state writes that run after the
	// parent context is cancelled during a graceful drain.
	bookkeepingTimeout = 10 * time.Second
)

// Worker runs a fixed-size pool of goroutines against one queue.
type Worker struct {
	queue       *Queue
	handler     Handler
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewWorker creates a worker pool for the queue. timeout bounds each job
// attempt.
func NewWorker(q *Queue, handler Handler, concurrency int, timeout time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		queue:       q,
		handler:     handler,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.With(slog.String("queue", q.Name())),
	}
}

// Run processes jobs until ctx is cancelled. Active jobs finish their current
// attempt before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(gctx)
		})
	}
	g.Go(func() error {
		return w.promoteLoop(gctx)
	})

	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		paused, err := w.queue.IsPaused(ctx)
		if err != nil {
			w.logger.Warn("queue gate check failed", slog.String("error", err.Error()))
			sleep(ctx, pausedBackoff)
			continue
		}
		if paused {
			sleep(ctx, pausedBackoff)
			continue
		}

		job, err := w.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("dequeue failed", slog.String("error", err.Error()))
			sleep(ctx, pausedBackoff)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, err := w.runHandler(jobCtx, job)
	jobDuration.WithLabelValues(w.queue.Name()).Observe(time.Since(start).Seconds())

	// Bookkeeping must survive a cancelled parent during graceful drain.
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer bookCancel()

	if err != nil {
		retryable := apperrors.IsRetryable(err)
		jobsProcessed.WithLabelValues(w.queue.Name(), "failed").Inc()
		w.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Bool("retryable", retryable),
			slog.String("error", err.Error()),
		)
		if failErr := w.queue.Fail(bookCtx, job, err, stackFor(err), retryable); failErr != nil {
			w.logger.Error("failed to record job failure", slog.String("job_id", job.ID), slog.String("error", failErr.Error()))
		}
		return
	}

	jobsProcessed.WithLabelValues(w.queue.Name(), "completed").Inc()
	w.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.Duration("took", time.Since(start)),
	)
	if compErr := w.queue.Complete(bookCtx, job, result); compErr != nil {
		w.logger.Error("failed to record job completion", slog.String("job_id", job.ID), slog.String("error", compErr.Error()))
	}
}

// runHandler invokes the handler with panic containment; a panicking job is a
// failed attempt, not a dead worker.
func (w *Worker) runHandler(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(promoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.queue.PromoteDelayed(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("promote delayed jobs failed", slog.String("error", err.Error()))
			}
		}
	}
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("job handler panicked: %v", e.value)
}

func stackFor(err error) string {
	if pe, ok := err.(*panicError); ok {
		return pe.stack
	}
	return ""
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
