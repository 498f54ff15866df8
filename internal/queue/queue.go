// Package queue moves allocation recompute and snapshot emission off
// the webhook/impression request path, generalizing the ticker-driven
// background task from order_service/main.go's startBackgroundTasks
// into a buffered-channel worker pool that also accepts ad-hoc jobs
// triggered by events rather than only a fixed interval.
package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job is one unit of background work. Jobs are expected to be
// idempotent since a panic recovery or a process restart can cause a
// job to be dropped or, in a future durable-queue swap, redelivered.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a fixed-size worker pool draining a buffered channel. It
// never blocks the caller past the channel's capacity.
type Queue struct {
	jobs    chan Job
	workers int
	logger  *zap.Logger
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a queue with the given buffer depth and worker count.
func New(bufferSize, workers int, logger *zap.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if workers <= 0 {
		workers = 4
	}
	return &Queue{
		jobs:    make(chan Job, bufferSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the worker pool. Call Stop to drain and shut down.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, id, job)
		}
	}
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("background job panicked",
				zap.String("job", job.Name),
				zap.Int("worker", workerID),
				zap.Any("recover", r))
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.logger.Error("background job failed",
			zap.String("job", job.Name),
			zap.Int("worker", workerID),
			zap.Error(err))
	}
}

// Enqueue submits a job without blocking; if the buffer is full the
// job is dropped and logged rather than stalling the request path that
// enqueued it.
func (q *Queue) Enqueue(job Job) {
	select {
	case q.jobs <- job:
	default:
		q.logger.Warn("background queue full, dropping job", zap.String("job", job.Name))
	}
}

// Stop cancels running workers and waits for them to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	close(q.jobs)
	q.wg.Wait()
}
