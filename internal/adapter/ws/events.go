package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
)

// TaskStatusEvent is broadcast when a task's status changes.
type TaskStatusEvent struct {
	TaskID         string `json:"task_id"`
	ProjectID      string `json:"project_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
}

// TaskUnblockedEvent is broadcast for each dependent task that became
// eligible after its last blocker completed.
type TaskUnblockedEvent struct {
	TaskID          string `json:"task_id"`
	ProjectID       string `json:"project_id"`
	CompletedTaskID string `json:"completed_task_id"`
}

// QueueChangedEvent is broadcast when the execution queue grows or shrinks.
type QueueChangedEvent struct {
	Depth int `json:"depth"`
}

// ApprovalRequestedEvent is broadcast when an agent asks for a decision.
type ApprovalRequestedEvent struct {
	ApprovalID         string `json:"approval_id"`
	RequestType        string `json:"request_type"`
	ToolName           string `json:"tool_name,omitempty"`
	ExecutionProcessID string `json:"execution_process_id"`
}

// ApprovalResolvedEvent is broadcast when a pending request reaches a
// terminal status.
type ApprovalResolvedEvent struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
}

// ExecutionCompletedEvent is broadcast when an execution process finishes.
type ExecutionCompletedEvent struct {
	ProcessID   string `json:"process_id"`
	WorkspaceID string `json:"workspace_id"`
	Status      string `json:"status"`
}

// BroadcastEvent marshals a typed event and broadcasts it. Implements
// broadcast.Broadcaster.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType broadcast.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    string(eventType),
		Payload: json.RawMessage(data),
	})
}
