package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// asyncPool is shared by every handler derived through WithAttrs/WithGroup.
type asyncPool struct {
	ch      chan func()
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// asyncHandler hands records to a bounded queue drained by a fixed set of
// workers. Records are dropped, and counted, when the queue is full.
type asyncHandler struct {
	inner slog.Handler
	pool  *asyncPool
}

func newAsyncHandler(inner slog.Handler, queue, workers int) *asyncHandler {
	p := &asyncPool{ch: make(chan func(), queue)}
	for range workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.ch {
				fn()
			}
		}()
	}
	return &asyncHandler{inner: inner, pool: p}
}

func (h *asyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *asyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	inner := h.inner
	rec = rec.Clone()
	select {
	case h.pool.ch <- func() { _ = inner.Handle(context.Background(), rec) }:
	default:
		h.pool.dropped.Add(1)
	}
	return nil
}

func (h *asyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &asyncHandler{inner: h.inner.WithAttrs(attrs), pool: h.pool}
}

func (h *asyncHandler) WithGroup(name string) slog.Handler {
	return &asyncHandler{inner: h.inner.WithGroup(name), pool: h.pool}
}

// Dropped returns how many records were discarded on a full queue.
func (h *asyncHandler) Dropped() int64 { return h.pool.dropped.Load() }

// Close drains the queue. Safe to call more than once.
func (h *asyncHandler) Close() {
	h.pool.once.Do(func() {
		close(h.pool.ch)
		h.pool.wg.Wait()
	})
}
