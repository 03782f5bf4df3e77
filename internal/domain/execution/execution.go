// Package execution defines execution processes, queue entries, and the
// trigger requests handlers use to ask for follow-on work.
package execution

import (
	"fmt"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
)

// Status represents the lifecycle state of an execution process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// RunReason records why an execution process was started.
type RunReason string

const (
	ReasonCodingAgent        RunReason = "codingagent"
	ReasonSetupScript        RunReason = "setupscript"
	ReasonCleanupScript      RunReason = "cleanupscript"
	ReasonFeedbackCollection RunReason = "feedbackcollection"
)

// Process is one run of an agent or script against a workspace.
type Process struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	SessionID   string    `json:"session_id,omitempty"`
	RunReason   RunReason `json:"run_reason"`
	Status      Status    `json:"status"`
	ExitError   string    `json:"exit_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Finished reports whether the process reached a terminal status.
func (p *Process) Finished() bool {
	return p.Status != StatusRunning
}

// ExecutorAction is the continuation payload for a follow-up run within
// an existing session.
type ExecutorAction struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
}

// QueueEntry is one waiting execution request. SessionID and
// ExecutorAction are either both set (follow-up entry) or both absent
// (initial-start entry). RunReason survives queueing so a waiting
// request starts as what it was admitted as.
type QueueEntry struct {
	ID                string          `json:"id"`
	WorkspaceID       string          `json:"workspace_id"`
	ExecutorProfileID string          `json:"executor_profile_id"`
	SessionID         string          `json:"session_id,omitempty"`
	ExecutorAction    *ExecutorAction `json:"executor_action,omitempty"`
	RunReason         RunReason       `json:"run_reason"`
	QueuedAt          time.Time       `json:"queued_at"`
}

// Validate enforces the follow-up invariant on the entry.
func (e *QueueEntry) Validate() error {
	if e.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required: %w", domain.ErrValidation)
	}
	if e.RunReason == "" {
		return fmt.Errorf("run_reason is required: %w", domain.ErrValidation)
	}
	if (e.SessionID == "") != (e.ExecutorAction == nil) {
		return fmt.Errorf("session_id and executor_action must be set together: %w", domain.ErrValidation)
	}
	return nil
}

// FollowUp reports whether the entry continues an existing session.
func (e *QueueEntry) FollowUp() bool {
	return e.SessionID != ""
}

// Trigger is a handler's request for a follow-on execution, decoupled
// from the concrete scheduler.
type Trigger interface {
	isTrigger()
}

// FeedbackCollection asks for a feedback-collection run after a coding
// agent finishes in a workspace.
type FeedbackCollection struct {
	WorkspaceID        string
	TaskID             string
	ExecutionProcessID string
}

// ReviewAttention flags a task for reviewer attention after an
// execution completes.
type ReviewAttention struct {
	TaskID             string
	ExecutionProcessID string
}

func (FeedbackCollection) isTrigger() {}
func (ReviewAttention) isTrigger()    {}
