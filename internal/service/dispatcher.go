// Package service contains application services.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/otel"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
)

// HandlerMode declares how the dispatcher executes a handler.
type HandlerMode string

const (
	// ModeInline handlers run sequentially on the dispatching goroutine;
	// Dispatch does not return until they have all finished.
	ModeInline HandlerMode = "inline"

	// ModeSpawned handlers run on their own goroutine after Dispatch
	// returns, bounded by the dispatcher's semaphore. Failed spawned
	// handlers are not retried.
	ModeSpawned HandlerMode = "spawned"
)

// EventHandler reacts to domain events. Handlers are registered once at
// startup; registration order is the inline execution order.
type EventHandler interface {
	Name() string
	Mode() HandlerMode
	Handles(ev event.Event) bool
	Handle(ctx context.Context, ev event.Event) error
}

// Dispatcher fans domain events out to registered handlers. A handler
// failure is logged with the handler name and event summary and never
// stops the remaining handlers or reaches the event producer.
type Dispatcher struct {
	store   database.Store
	metrics *otel.Metrics
	sem     *semaphore.Weighted

	mu       sync.RWMutex
	handlers []EventHandler

	// wg tracks in-flight spawned handlers for graceful shutdown.
	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. maxSpawned bounds concurrently
// running spawned handlers. metrics may be nil.
func NewDispatcher(store database.Store, metrics *otel.Metrics, maxSpawned int64) *Dispatcher {
	return &Dispatcher{
		store:   store,
		metrics: metrics,
		sem:     semaphore.NewWeighted(maxSpawned),
	}
}

// Register appends a handler to the registry. Not safe to call
// concurrently with Dispatch; call during startup wiring only.
func (d *Dispatcher) Register(h EventHandler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Dispatch executes all matching handlers for ev. Inline handlers
// complete before Dispatch returns; spawned handlers are started and
// left to finish on their own.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	if d.metrics != nil {
		d.metrics.EventsDispatched.Add(ctx, 1)
	}

	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, h := range handlers {
		if !h.Handles(ev) {
			continue
		}
		switch h.Mode() {
		case ModeInline:
			if err := h.Handle(ctx, ev); err != nil {
				d.recordFailure(ctx, h, ev, err)
			}
		case ModeSpawned:
			d.spawn(ctx, h, ev)
		}
	}
}

// spawn runs the handler on its own goroutine, detached from the
// caller's cancellation, with a hook-run record for observability.
func (d *Dispatcher) spawn(ctx context.Context, h EventHandler, ev event.Event) {
	runID := uuid.NewString()
	bgCtx := context.WithoutCancel(ctx)

	if err := d.store.CreateHookRun(bgCtx, runID, h.Name(), string(ev.Kind())); err != nil {
		slog.Warn("hook run create failed", "handler", h.Name(), "error", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(bgCtx, 1); err != nil {
			d.finishHookRun(bgCtx, runID, "failed", err.Error())
			return
		}
		defer d.sem.Release(1)

		if err := h.Handle(bgCtx, ev); err != nil {
			d.recordFailure(bgCtx, h, ev, err)
			d.finishHookRun(bgCtx, runID, "failed", err.Error())
			return
		}
		d.finishHookRun(bgCtx, runID, "completed", "")
	}()
}

func (d *Dispatcher) finishHookRun(ctx context.Context, runID, status, errMsg string) {
	if err := d.store.CompleteHookRun(ctx, runID, status, errMsg); err != nil {
		slog.Warn("hook run complete failed", "run_id", runID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, h EventHandler, ev event.Event, err error) {
	if d.metrics != nil {
		d.metrics.HandlerFailures.Add(ctx, 1)
	}
	slog.Error("event handler failed",
		"handler", h.Name(),
		"mode", h.Mode(),
		"event", event.Summary(ev),
		"error", err,
	)
}

// Wait blocks until all in-flight spawned handlers have finished.
// Used during graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
