package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/otel"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ws"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/runtime"
	"github.com/outerlook/vibe-kanban-sub002/internal/resilience"
)

// Scheduler admits execution requests against a global concurrency cap.
// Requests below the cap start immediately; the rest wait in a strict
// FIFO queue and start as running executions finish.
type Scheduler struct {
	store         database.Store
	runtime       runtime.Runtime
	breaker       *resilience.Breaker
	hub           broadcast.Broadcaster
	metrics       *otel.Metrics
	maxConcurrent int

	// mu serializes pop-and-start so two completions cannot both
	// dequeue the same entry. The store's row lock guards cross-process
	// races; this guards in-process ones without burning transactions.
	mu sync.Mutex
}

// NewScheduler creates a Scheduler. maxConcurrent of 0 means unlimited.
func NewScheduler(store database.Store, rt runtime.Runtime, breaker *resilience.Breaker, hub broadcast.Broadcaster, metrics *otel.Metrics, maxConcurrent int) *Scheduler {
	return &Scheduler{
		store:         store,
		runtime:       rt,
		breaker:       breaker,
		hub:           hub,
		metrics:       metrics,
		maxConcurrent: maxConcurrent,
	}
}

// StartOrEnqueue requests a fresh execution for a workspace. Below the
// concurrency cap it starts immediately and returns the process;
// otherwise it enqueues and returns the queue entry.
func (s *Scheduler) StartOrEnqueue(ctx context.Context, workspaceID, executorProfileID string) (*execution.Process, *execution.QueueEntry, error) {
	entry := &execution.QueueEntry{
		WorkspaceID:       workspaceID,
		ExecutorProfileID: executorProfileID,
		RunReason:         execution.ReasonCodingAgent,
	}
	return s.admit(ctx, entry)
}

// FollowUp requests a continuation of an existing session in the
// workspace. SessionID and action must both be set.
func (s *Scheduler) FollowUp(ctx context.Context, workspaceID, sessionID string, action *execution.ExecutorAction) (*execution.Process, *execution.QueueEntry, error) {
	entry := &execution.QueueEntry{
		WorkspaceID:    workspaceID,
		SessionID:      sessionID,
		ExecutorAction: action,
		RunReason:      execution.ReasonCodingAgent,
	}
	return s.admit(ctx, entry)
}

// StartFeedback requests a feedback-collection run for the workspace.
func (s *Scheduler) StartFeedback(ctx context.Context, workspaceID string) (*execution.Process, *execution.QueueEntry, error) {
	entry := &execution.QueueEntry{
		WorkspaceID: workspaceID,
		RunReason:   execution.ReasonFeedbackCollection,
	}
	return s.admit(ctx, entry)
}

func (s *Scheduler) admit(ctx context.Context, entry *execution.QueueEntry) (*execution.Process, *execution.QueueEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, nil, err
	}
	if _, err := s.store.GetWorkspace(ctx, entry.WorkspaceID); err != nil {
		return nil, nil, err
	}

	// One live entry per workspace.
	if _, err := s.store.GetQueueEntryByWorkspace(ctx, entry.WorkspaceID); err == nil {
		return nil, nil, fmt.Errorf("workspace %s already has a queued execution: %w", entry.WorkspaceID, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.belowCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		proc, err := s.startNow(ctx, entry)
		if err != nil {
			return nil, nil, err
		}
		return proc, nil, nil
	}

	if err := s.store.CreateQueueEntry(ctx, entry); err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.ExecutionsQueued.Add(ctx, 1)
	}
	s.broadcastQueueDepth(ctx)
	slog.Info("execution queued",
		"workspace_id", entry.WorkspaceID,
		"run_reason", entry.RunReason,
		"follow_up", entry.FollowUp(),
	)
	return nil, entry, nil
}

// StartNextQueued pops the oldest entry and starts it, if capacity
// allows. Called whenever an execution finishes. A start failure
// re-enqueues the entry so the request is not lost.
func (s *Scheduler) StartNextQueued(ctx context.Context) (*execution.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.belowCap(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	entry, err := s.store.PopNextQueueEntry(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.QueueWait.Record(ctx, time.Since(entry.QueuedAt).Seconds())
	}
	s.broadcastQueueDepth(ctx)

	proc, err := s.startNow(ctx, entry)
	if err != nil {
		slog.Error("queued execution start failed, re-enqueueing",
			"workspace_id", entry.WorkspaceID,
			"error", err,
		)
		entry.ID = ""
		if reqErr := s.store.CreateQueueEntry(ctx, entry); reqErr != nil {
			slog.Error("re-enqueue failed", "workspace_id", entry.WorkspaceID, "error", reqErr)
		}
		return nil, err
	}
	return proc, nil
}

// startNow must be called with s.mu held.
func (s *Scheduler) startNow(ctx context.Context, entry *execution.QueueEntry) (*execution.Process, error) {
	proc := &execution.Process{
		ID:          uuid.NewString(),
		WorkspaceID: entry.WorkspaceID,
		SessionID:   entry.SessionID,
		RunReason:   entry.RunReason,
		Status:      execution.StatusRunning,
	}
	if err := s.store.CreateExecution(ctx, proc); err != nil {
		return nil, err
	}

	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.runtime.StartExecution(ctx, proc, entry)
	})
	if err != nil {
		if cErr := s.store.CompleteExecution(ctx, proc.ID, execution.StatusFailed, err.Error()); cErr != nil {
			slog.Error("mark failed execution", "process_id", proc.ID, "error", cErr)
		}
		return nil, fmt.Errorf("start execution for workspace %s: %w", entry.WorkspaceID, err)
	}

	if s.metrics != nil {
		s.metrics.ExecutionsStarted.Add(ctx, 1)
	}
	slog.Info("execution started",
		"process_id", proc.ID,
		"workspace_id", proc.WorkspaceID,
		"run_reason", proc.RunReason,
		"follow_up", entry.FollowUp(),
	)
	return proc, nil
}

// belowCap reports whether another execution may start now.
func (s *Scheduler) belowCap(ctx context.Context) (bool, error) {
	if s.maxConcurrent <= 0 {
		return true, nil
	}
	running, err := s.runtime.RunningCount(ctx)
	if err != nil {
		return false, fmt.Errorf("running count: %w", err)
	}
	return running < s.maxConcurrent, nil
}

// Cancel removes the queued entry for a workspace. Idempotent: a
// missing entry is not an error.
func (s *Scheduler) Cancel(ctx context.Context, workspaceID string) error {
	err := s.store.DeleteQueueEntryByWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	s.broadcastQueueDepth(ctx)
	slog.Info("queued execution cancelled", "workspace_id", workspaceID)
	return nil
}

// List returns all queue entries in FIFO order.
func (s *Scheduler) List(ctx context.Context) ([]execution.QueueEntry, error) {
	return s.store.ListQueueEntries(ctx)
}

// Count returns the queue depth.
func (s *Scheduler) Count(ctx context.Context) (int, error) {
	return s.store.CountQueueEntries(ctx)
}

func (s *Scheduler) broadcastQueueDepth(ctx context.Context) {
	depth, err := s.store.CountQueueEntries(ctx)
	if err != nil {
		slog.Warn("queue depth read failed", "error", err)
		return
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventQueueChanged, ws.QueueChangedEvent{Depth: depth})
}
