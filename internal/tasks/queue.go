// Package tasks runs fire-and-forget work off the request path on a bounded
// worker pool.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"parley/internal/observability"

	"github.com/gammazero/workerpool"
)

const defaultWorkers = 4

// Queue submits named tasks to a fixed-size worker pool. Tasks run with a
// context detached from the submitter's cancellation.
type Queue struct {
	pool    *workerpool.WorkerPool
	timeout time.Duration

	// mu keeps pool.Submit from running once Stop has begun.
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a Queue with the given number of workers. Each task gets
// at most timeout to finish; zero means no limit.
func NewQueue(workers int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Queue{
		pool:    workerpool.New(workers),
		timeout: timeout,
	}
}

// Submit schedules fn. It returns false when the queue has been stopped.
func (q *Queue) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		observability.AsyncTasks.WithLabelValues(name, "rejected").Inc()
		return false
	}
	taskCtx := context.WithoutCancel(ctx)
	if observability.ExtractCorrelationID(taskCtx) == "" {
		taskCtx = observability.WithCorrelationID(taskCtx, observability.GenerateCorrelationID())
	}
	q.pool.Submit(func() { q.run(taskCtx, name, fn) })
	return true
}

func (q *Queue) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	start := time.Now()
	observability.LogAsyncOperationStart(ctx, name, nil)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()
		return fn(ctx)
	}()

	if err != nil {
		observability.AsyncTasks.WithLabelValues(name, "error").Inc()
		observability.LogAsyncOperationError(ctx, name, err, nil)
		return
	}
	observability.AsyncTasks.WithLabelValues(name, "ok").Inc()
	observability.LogAsyncOperationEnd(ctx, name, map[string]interface{}{
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int {
	return q.pool.WaitingQueueSize()
}

// Stop waits for queued tasks to finish and refuses new ones.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.pool.StopWait()
}
