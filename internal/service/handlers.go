package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ws"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/notifier"
)

// TriggerFunc routes a handler's follow-on request to whatever can act
// on it. Handlers never hold the scheduler directly.
type TriggerFunc func(ctx context.Context, t execution.Trigger) error

// ---------------------------------------------------------------------------
// websocket broadcast
// ---------------------------------------------------------------------------

// BroadcastHandler pushes every domain event to connected clients.
// Inline so clients observe state changes in commit order.
type BroadcastHandler struct {
	hub broadcast.Broadcaster
}

// NewBroadcastHandler creates a BroadcastHandler.
func NewBroadcastHandler(hub broadcast.Broadcaster) *BroadcastHandler {
	return &BroadcastHandler{hub: hub}
}

func (h *BroadcastHandler) Name() string      { return "ws_broadcast" }
func (h *BroadcastHandler) Mode() HandlerMode { return ModeInline }

func (h *BroadcastHandler) Handles(ev event.Event) bool {
	switch ev.(type) {
	case event.TaskStatusChanged, event.ExecutionCompleted:
		return true
	}
	return false
}

func (h *BroadcastHandler) Handle(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.TaskStatusChanged:
		h.hub.BroadcastEvent(ctx, broadcast.EventTaskStatus, ws.TaskStatusEvent{
			TaskID:         e.Task.ID,
			ProjectID:      e.Task.ProjectID,
			Status:         string(e.Task.Status),
			PreviousStatus: string(e.PreviousStatus),
		})
	case event.ExecutionCompleted:
		h.hub.BroadcastEvent(ctx, broadcast.EventExecutionCompleted, ws.ExecutionCompletedEvent{
			ProcessID:   e.Process.ID,
			WorkspaceID: e.Process.WorkspaceID,
			Status:      string(e.Process.Status),
		})
	}
	return nil
}

// ---------------------------------------------------------------------------
// queue drain
// ---------------------------------------------------------------------------

// QueueDrainHandler starts the next queued execution when a running one
// finishes. Inline so the freed slot is reused before Dispatch returns.
type QueueDrainHandler struct {
	scheduler *Scheduler
}

// NewQueueDrainHandler creates a QueueDrainHandler.
func NewQueueDrainHandler(scheduler *Scheduler) *QueueDrainHandler {
	return &QueueDrainHandler{scheduler: scheduler}
}

func (h *QueueDrainHandler) Name() string      { return "queue_drain" }
func (h *QueueDrainHandler) Mode() HandlerMode { return ModeInline }

func (h *QueueDrainHandler) Handles(ev event.Event) bool {
	_, ok := ev.(event.ExecutionCompleted)
	return ok
}

func (h *QueueDrainHandler) Handle(ctx context.Context, ev event.Event) error {
	proc, err := h.scheduler.StartNextQueued(ctx)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	if proc != nil {
		slog.Debug("queued execution promoted", "process_id", proc.ID, "workspace_id", proc.WorkspaceID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// dependency cascade
// ---------------------------------------------------------------------------

// DependencyCascadeHandler reacts to a task reaching done: dependents
// whose blockers are now all done are announced as unblocked, to
// clients and on the message queue.
type DependencyCascadeHandler struct {
	deps *DependencyService
	mq   messagequeue.Queue
	hub  broadcast.Broadcaster
}

// NewDependencyCascadeHandler creates a DependencyCascadeHandler.
func NewDependencyCascadeHandler(deps *DependencyService, mq messagequeue.Queue, hub broadcast.Broadcaster) *DependencyCascadeHandler {
	return &DependencyCascadeHandler{deps: deps, mq: mq, hub: hub}
}

func (h *DependencyCascadeHandler) Name() string      { return "dependency_cascade" }
func (h *DependencyCascadeHandler) Mode() HandlerMode { return ModeSpawned }

func (h *DependencyCascadeHandler) Handles(ev event.Event) bool {
	e, ok := ev.(event.TaskStatusChanged)
	return ok && e.Task.Status == task.StatusDone
}

func (h *DependencyCascadeHandler) Handle(ctx context.Context, ev event.Event) error {
	e := ev.(event.TaskStatusChanged)

	unblocked, err := h.deps.UnblockedDependents(ctx, e.Task.ID)
	if err != nil {
		return fmt.Errorf("unblocked dependents of %s: %w", e.Task.ID, err)
	}

	for _, t := range unblocked {
		h.hub.BroadcastEvent(ctx, broadcast.EventTaskUnblocked, ws.TaskUnblockedEvent{
			TaskID:          t.ID,
			ProjectID:       t.ProjectID,
			CompletedTaskID: e.Task.ID,
		})

		payload := messagequeue.TaskUnblockedPayload{
			TaskID:          t.ID,
			ProjectID:       t.ProjectID,
			CompletedTaskID: e.Task.ID,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal unblocked payload: %w", err)
		}
		if err := h.mq.Publish(ctx, messagequeue.SubjectTaskUnblocked, data); err != nil {
			return fmt.Errorf("publish unblocked task %s: %w", t.ID, err)
		}
		slog.Info("task unblocked", "task_id", t.ID, "completed_task_id", e.Task.ID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// follow-up trigger
// ---------------------------------------------------------------------------

// FollowUpHandler requests follow-on work after a coding agent run:
// feedback collection on success, reviewer attention either way.
type FollowUpHandler struct {
	trigger TriggerFunc
}

// NewFollowUpHandler creates a FollowUpHandler.
func NewFollowUpHandler(trigger TriggerFunc) *FollowUpHandler {
	return &FollowUpHandler{trigger: trigger}
}

func (h *FollowUpHandler) Name() string      { return "follow_up" }
func (h *FollowUpHandler) Mode() HandlerMode { return ModeSpawned }

func (h *FollowUpHandler) Handles(ev event.Event) bool {
	e, ok := ev.(event.ExecutionCompleted)
	return ok && e.Process.RunReason == execution.ReasonCodingAgent
}

func (h *FollowUpHandler) Handle(ctx context.Context, ev event.Event) error {
	e := ev.(event.ExecutionCompleted)

	if e.Process.Status == execution.StatusCompleted {
		err := h.trigger(ctx, execution.FeedbackCollection{
			WorkspaceID:        e.Process.WorkspaceID,
			TaskID:             e.TaskID,
			ExecutionProcessID: e.Process.ID,
		})
		if err != nil {
			return fmt.Errorf("trigger feedback collection: %w", err)
		}
	}

	if e.TaskID != "" {
		err := h.trigger(ctx, execution.ReviewAttention{
			TaskID:             e.TaskID,
			ExecutionProcessID: e.Process.ID,
		})
		if err != nil {
			return fmt.Errorf("trigger review attention: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// notification fan-out
// ---------------------------------------------------------------------------

// NotificationHandler turns interesting events into notifications.
type NotificationHandler struct {
	notifications *NotificationService
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications *NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

func (h *NotificationHandler) Name() string      { return "notifications" }
func (h *NotificationHandler) Mode() HandlerMode { return ModeSpawned }

func (h *NotificationHandler) Handles(ev event.Event) bool {
	switch e := ev.(type) {
	case event.ExecutionCompleted:
		return true
	case event.TaskStatusChanged:
		return e.Task.Status == task.StatusDone
	}
	return false
}

func (h *NotificationHandler) Handle(ctx context.Context, ev event.Event) error {
	var n notifier.Notification
	switch e := ev.(type) {
	case event.ExecutionCompleted:
		n = notifier.Notification{
			Title:   "Execution finished",
			Message: event.Summary(ev),
			Level:   executionLevel(e.Process.Status),
			Source:  string(ev.Kind()),
		}
	case event.TaskStatusChanged:
		n = notifier.Notification{
			Title:   "Task done",
			Message: event.Summary(ev),
			Level:   "info",
			Source:  string(ev.Kind()),
		}
	default:
		return nil
	}
	h.notifications.Notify(ctx, n)
	return nil
}

func executionLevel(status execution.Status) string {
	switch status {
	case execution.StatusFailed:
		return "error"
	case execution.StatusKilled:
		return "warning"
	default:
		return "info"
	}
}
