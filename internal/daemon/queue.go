package daemon

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

type job struct {
	name string
	fn   func(ctx context.Context)
}

// Queue is the single dispatch goroutine. Every job runs to completion
// before the next one starts, in enqueue order.
type Queue struct {
	jobs   chan job
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewQueue returns a queue holding up to size pending jobs.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:   make(chan job, size),
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue adds a job without waiting for it. It fails when the queue is
// full or closed.
func (q *Queue) Enqueue(name string, fn func(ctx context.Context)) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ferrors.DaemonError("dispatch queue is closed").WithContext("job", name).Build()
	}
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		return ferrors.DaemonError("dispatch queue is full").
			WithContext("job", name).
			WithContext("capacity", cap(q.jobs)).
			Retryable().Build()
	}
}

// Submit enqueues fn and waits for its result. If ctx ends first the job
// still runs; only the wait is abandoned.
func Submit[T any](ctx context.Context, q *Queue, name string, fn func(ctx context.Context) T) (T, error) {
	out := make(chan T, 1)
	var zero T
	if err := q.Enqueue(name, func(jctx context.Context) { out <- fn(jctx) }); err != nil {
		return zero, err
	}
	select {
	case v := <-out:
		return v, nil
	case <-q.done:
		select {
		case v := <-out:
			return v, nil
		default:
		}
		return zero, ferrors.DaemonError("dispatch queue stopped").WithContext("job", name).Build()
	case <-ctx.Done():
		return zero, ferrors.WrapError(ctx.Err(), ferrors.CategoryRuntime, "gave up waiting for job").
			WithContext("job", name).Build()
	}
}

// Run executes jobs until Close is called or ctx ends. Jobs already queued
// when Close is called still run.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	defer close(q.done)

	for {
		select {
		case j := <-q.jobs:
			q.exec(ctx, j)
		case <-q.stop:
			q.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case j := <-q.jobs:
			q.exec(ctx, j)
		default:
			return
		}
	}
}

func (q *Queue) exec(ctx context.Context, j job) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("Dispatch job panicked",
				logfields.JobName(j.name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	j.fn(ctx)
}

// Close stops accepting jobs and makes Run return after the queued ones.
// It does not wait; use Done for that.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.stop)
}

// Done is closed when Run has returned.
func (q *Queue) Done() <-chan struct{} { return q.done }
