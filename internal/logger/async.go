package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler's background work.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncCore is the queue shared by an AsyncHandler and every derived
// handler returned from WithAttrs/WithGroup.
type asyncCore struct {
	ch      chan asyncItem
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// asyncItem pairs a record with the handler that must format it, so
// derived handlers keep their attrs through the shared queue.
type asyncItem struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler decouples record formatting from the caller: Handle
// enqueues and returns immediately, workers write in the background.
// When the queue is full the record is dropped and counted rather than
// blocking the hot path.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler starts workers draining a queue of capacity chanSize
// in front of inner.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan asyncItem, chanSize)}
	for range workers {
		core.wg.Add(1)
		go func() {
			defer core.wg.Done()
			for item := range core.ch {
				_ = item.h.Handle(context.Background(), item.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, core: core}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it if the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.ch <- asyncItem{h: h.inner, rec: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares this handler's queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler that shares this handler's queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the workers after the queue drains. If records were
// dropped along the way a summary line is written synchronously.
func (h *AsyncHandler) Close() {
	close(h.core.ch)
	h.core.wg.Wait()
	if n := h.core.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped on full queue", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
