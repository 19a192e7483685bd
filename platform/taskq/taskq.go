// Package taskq provides a bounded in-process background task queue with an
// explicit submit API and observable completion. It replaces unstructured
// fire-and-forget goroutines for work that must continue after an HTTP
// response has been written (e.g. webhook processing after the immediate ack).
// This is part of the platform layer and contains no business logic.
package taskq

import (
	"context"
	"errors"
	"sync"

	"wacampaign_backend/platform/logger"
)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("task queue full")

// ErrClosed is returned by Submit after Close has been called.
var ErrClosed = errors.New("task queue closed")

// Task is a unit of background work.
type Task func(ctx context.Context)

// Queue runs submitted tasks on a fixed set of workers over a bounded channel.
type Queue struct {
	tasks   chan Task
	log     *logger.Logger
	wg      sync.WaitGroup
	pending sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
	cancel  context.CancelFunc
}

// New creates a queue with the given buffer capacity and worker count and
// starts its workers.
func New(capacity, workers int, log *logger.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan Task, capacity),
		log:    log,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	return q
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(ctx, task)
	}
}

func (q *Queue) run(ctx context.Context, task Task) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("background task panicked", "panic", r)
		}
	}()
	task(ctx)
}

// Submit enqueues a task without blocking. Returns ErrQueueFull when the
// buffer is at capacity so callers can decide to drop or retry.
func (q *Queue) Submit(task Task) error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return ErrClosed
	}
	q.pending.Add(1)
	q.closeMu.Unlock()

	select {
	case q.tasks <- task:
		return nil
	default:
		q.pending.Done()
		return ErrQueueFull
	}
}

// Drain blocks until every task submitted so far has completed.
// Intended for tests and graceful shutdown.
func (q *Queue) Drain() {
	q.pending.Wait()
}

// Close stops accepting tasks, waits for in-flight tasks to finish, then
// stops the workers.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	q.closeMu.Unlock()

	q.pending.Wait()
	close(q.tasks)
	q.wg.Wait()
	q.cancel()
}
