package messagequeue

import (
	"encoding/json"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
)

// StartExecutionPayload is published on SubjectExecutionStart.
type StartExecutionPayload struct {
	ProcessID         string                    `json:"process_id"`
	WorkspaceID       string                    `json:"workspace_id"`
	SessionID         string                    `json:"session_id,omitempty"`
	ExecutorProfileID string                    `json:"executor_profile_id,omitempty"`
	ExecutorAction    *execution.ExecutorAction `json:"executor_action,omitempty"`
	RunReason         execution.RunReason       `json:"run_reason"`
}

// CancelExecutionPayload is published on SubjectExecutionCancel.
type CancelExecutionPayload struct {
	ProcessID string `json:"process_id"`
}

// ExecutionCompletedPayload arrives on SubjectExecutionCompleted.
type ExecutionCompletedPayload struct {
	ProcessID string           `json:"process_id"`
	Status    execution.Status `json:"status"`
	ExitError string           `json:"exit_error,omitempty"`
}

// ApprovalRequestedPayload arrives on SubjectApprovalRequested.
type ApprovalRequestedPayload struct {
	RequestType        approval.RequestType `json:"request_type"`
	ToolCallID         string               `json:"tool_call_id,omitempty"`
	ToolName           string               `json:"tool_name,omitempty"`
	ToolInput          json.RawMessage      `json:"tool_input,omitempty"`
	Questions          []approval.Question  `json:"questions,omitempty"`
	ExecutionProcessID string               `json:"execution_process_id"`
}

// ApprovalResolvedPayload is published on SubjectApprovalResolved.
type ApprovalResolvedPayload struct {
	ApprovalID         string            `json:"approval_id"`
	ExecutionProcessID string            `json:"execution_process_id"`
	Status             approval.Status   `json:"status"`
	Reason             string            `json:"reason,omitempty"`
	Answers            []approval.Answer `json:"answers,omitempty"`
}

// TaskUnblockedPayload is published on SubjectTaskUnblocked for each
// dependent that became eligible after a task completed.
type TaskUnblockedPayload struct {
	TaskID          string `json:"task_id"`
	ProjectID       string `json:"project_id"`
	CompletedTaskID string `json:"completed_task_id"`
}
