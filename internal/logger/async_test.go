package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// countingHandler records how many records it handled and their messages.
type countingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, rec slog.Record) error {
	h.mu.Lock()
	h.messages = append(h.messages, rec.Message)
	h.mu.Unlock()
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *countingHandler) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) == 0 {
		return ""
	}
	return h.messages[len(h.messages)-1]
}

func TestAsyncHandlerDelivers(t *testing.T) {
	inner := &countingHandler{}
	h := NewAsyncHandler(inner, 16)

	l := slog.New(h)
	for range 10 {
		l.Info("hello")
	}

	h.Close()

	if got := inner.total(); got != 10 {
		t.Errorf("expected 10 records delivered, got %d", got)
	}
	if h.DroppedCount() != 0 {
		t.Errorf("expected no drops, got %d", h.DroppedCount())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	inner := &blockingHandler{release: block}
	h := NewAsyncHandler(inner, 1)

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
	// First record occupies the drainer, second fills the buffer,
	// everything after is dropped.
	for range 10 {
		_ = h.Handle(context.Background(), rec)
	}

	if h.DroppedCount() == 0 {
		t.Error("expected drops when buffer is full")
	}

	close(block)
	h.Close()
}

func TestAsyncHandlerCloseReportsDrops(t *testing.T) {
	inner := &countingHandler{}
	h := NewAsyncHandler(inner, 1)
	h.dropped.Store(3)
	h.Close()

	// Dropped records surface as one summary line on the inner handler.
	if !strings.Contains(inner.last(), "dropped") {
		t.Errorf("expected drop summary, got %q", inner.last())
	}
}

type blockingHandler struct {
	release chan struct{}
}

func (h *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *blockingHandler) Handle(context.Context, slog.Record) error {
	<-h.release
	return nil
}

func (h *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *blockingHandler) WithGroup(string) slog.Handler      { return h }
