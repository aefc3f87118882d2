// Package actor provides the hosting substrate for long-lived per-key
// instances (agents, triggers): a registry with blocking initialization and
// a durable single-timer alarm scheduler.
package actor

import (
	"context"
	"sync"
)

// InitFunc loads the state of a new instance. No caller receives the
// instance before it returns.
type InitFunc[T any] func(ctx context.Context, key string) (T, error)

type slot[T any] struct {
	ready chan struct{}
	val   T
	err   error
}

// Host keeps at most one live instance per key.
type Host[T any] struct {
	mu        sync.Mutex
	instances map[string]*slot[T]
	init      InitFunc[T]
}

// NewHost creates a host that builds instances with init.
func NewHost[T any](init InitFunc[T]) *Host[T] {
	return &Host[T]{instances: make(map[string]*slot[T]), init: init}
}

// Get returns the instance for key, initializing it on first use.
// Concurrent callers for a key that is still initializing wait for it.
// A failed initialization is not kept; the next Get retries.
func (h *Host[T]) Get(ctx context.Context, key string) (T, error) {
	h.mu.Lock()
	s, ok := h.instances[key]
	if !ok {
		s = &slot[T]{ready: make(chan struct{})}
		h.instances[key] = s
	}
	h.mu.Unlock()

	if !ok {
		s.val, s.err = h.init(context.WithoutCancel(ctx), key)
		if s.err != nil {
			h.mu.Lock()
			if h.instances[key] == s {
				delete(h.instances, key)
			}
			h.mu.Unlock()
		}
		close(s.ready)
	}

	select {
	case <-s.ready:
		return s.val, s.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Evict drops the instance for key; the next Get re-initializes it.
func (h *Host[T]) Evict(key string) {
	h.mu.Lock()
	delete(h.instances, key)
	h.mu.Unlock()
}

// Len returns the number of live instances.
func (h *Host[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances)
}
