package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log output at shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous logging.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples request goroutines from log encoding. Records
// queue onto a bounded channel drained by one background goroutine;
// when the buffer is full the record is counted and dropped instead of
// blocking the caller.
type AsyncHandler struct {
	inner   slog.Handler
	records chan slog.Record
	drained chan struct{}
	dropped *atomic.Int64
	closing *sync.Once
}

// NewAsyncHandler wraps inner with a buffer of the given size.
func NewAsyncHandler(inner slog.Handler, buffer int) *AsyncHandler {
	h := &AsyncHandler{
		inner:   inner,
		records: make(chan slog.Record, buffer),
		drained: make(chan struct{}),
		dropped: &atomic.Int64{},
		closing: &sync.Once{},
	}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	for rec := range h.records {
		_ = h.inner.Handle(context.Background(), rec)
	}
	close(h.drained)
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of the record. The clone keeps the record
// valid past the caller's return, which slog does not otherwise
// guarantee for retained records.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.records <- rec.Clone():
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing this buffer over a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		records: h.records,
		drained: h.drained,
		dropped: h.dropped,
		closing: h.closing,
	}
}

// WithGroup returns a handler sharing this buffer over a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner:   h.inner.WithGroup(name),
		records: h.records,
		drained: h.drained,
		dropped: h.dropped,
		closing: h.closing,
	}
}

// DroppedCount returns the number of records dropped under load.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records, waits for the buffer to drain, and
// writes a summary line when anything was dropped.
func (h *AsyncHandler) Close() {
	h.closing.Do(func() { close(h.records) })
	<-h.drained

	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped under load", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
