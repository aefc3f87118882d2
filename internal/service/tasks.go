package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskQueue runs fire-and-forget work (usage settlement, balance refresh)
// on a fixed worker pool. Failures are logged and never reach the code that
// submitted the task.
type TaskQueue struct {
	ch      chan Task
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewTaskQueue starts workers draining a queue of the given size.
// Each task gets its own timeout.
func NewTaskQueue(size, workers int, timeout time.Duration) *TaskQueue {
	q := &TaskQueue{ch: make(chan Task, size), timeout: timeout}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return q
}

func (q *TaskQueue) drain() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *TaskQueue) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			slog.Error("background task panicked", "task", t.Name, "panic", r)
		}
	}()
	if err := t.Run(ctx); err != nil {
		q.failed.Add(1)
		slog.Warn("background task failed", "task", t.Name, "error", err)
	}
}

// Submit enqueues t without blocking. It reports false when the queue is
// full or closed.
func (q *TaskQueue) Submit(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- t:
		return true
	default:
		q.dropped.Add(1)
		slog.Warn("background queue full, task dropped", "task", t.Name)
		return false
	}
}

// Dropped returns the number of tasks rejected by Submit.
func (q *TaskQueue) Dropped() int64 { return q.dropped.Load() }

// Failed returns the number of tasks that returned an error or panicked.
func (q *TaskQueue) Failed() int64 { return q.failed.Load() }

// Close stops accepting tasks and waits for queued ones to finish.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}
