package preload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/rs/zerolog"
)

// DefaultMaxConcurrent is the default number of tasks in flight
const DefaultMaxConcurrent = 2

var (
	// ErrQueueClosed is returned for tasks still queued when the queue closes
	ErrQueueClosed = errors.New("preload queue closed")

	// ErrTaskPanicked wraps a panic raised by a task
	ErrTaskPanicked = errors.New("preload task panicked")
)

// Task is deferred work run by the queue
type Task[T any] func(ctx context.Context) (T, error)

// Future is the eventual result of one task
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task finished
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finished or ctx ends
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Queue runs tasks with a fixed concurrency ceiling; extra tasks wait in
// FIFO order
type Queue struct {
	max    int
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	running int
	waiting []func()
	closed  bool
}

// NewQueue creates a queue running at most maxConcurrent tasks at once
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		max:    maxConcurrent,
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("preload"),
	}
}

// Enqueue schedules task on q. The returned future carries the task's own
// result; a failing task never affects other futures.
func Enqueue[T any](q *Queue, task Task[T]) *Future[T] {
	f := newFuture[T]()

	start := func() {
		go func() {
			defer q.release()
			value, err := call(q.ctx, task)
			if err != nil {
				metrics.PreloadFailuresTotal.Inc()
				q.logger.Debug().Err(err).Msg("preload task failed")
			}
			f.resolve(value, err)
		}()
	}
	cancel := func() {
		var zero T
		f.resolve(zero, ErrQueueClosed)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.closed:
		cancel()
	case q.running < q.max:
		q.running++
		start()
	default:
		q.waiting = append(q.waiting, func() {
			if q.closed {
				cancel()
				return
			}
			start()
		})
	}
	q.updateGaugesLocked()
	return f
}

// release hands the finished task's slot to the next waiting task
func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) > 0 && !q.closed {
		next := q.waiting[0]
		q.waiting = q.waiting[1:]
		next()
	} else {
		q.running--
	}
	q.updateGaugesLocked()
}

// InFlight returns the number of running tasks
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Queued returns the number of tasks waiting for a slot
func (q *Queue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Close cancels running tasks and fails queued ones with ErrQueueClosed
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	waiting := q.waiting
	q.waiting = nil
	q.updateGaugesLocked()
	q.mu.Unlock()

	q.cancel()
	for _, next := range waiting {
		next()
	}
}

func (q *Queue) updateGaugesLocked() {
	metrics.PreloadInFlight.Set(float64(q.running))
	metrics.PreloadQueued.Set(float64(len(q.waiting)))
}

// call runs task and turns a panic into an error
func call[T any](ctx context.Context, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx)
}
