// Package agentmq implements the runtime port over the message queue.
// Execution processes run on agent workers that consume start and
// cancel messages; the core tracks state in the database.
package agentmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
)

// Runtime dispatches execution processes to workers via the queue.
type Runtime struct {
	mq    messagequeue.Queue
	store database.Store
}

// NewRuntime creates a message-queue-backed runtime.
func NewRuntime(mq messagequeue.Queue, store database.Store) *Runtime {
	return &Runtime{mq: mq, store: store}
}

// RunningCount reports how many processes are currently executing.
// The database is the source of truth; workers update it through the
// completion flow.
func (r *Runtime) RunningCount(ctx context.Context) (int, error) {
	return r.store.RunningExecutionCount(ctx)
}

// StartExecution publishes a start message for the process. The entry
// carries session continuation details for follow-up runs.
func (r *Runtime) StartExecution(ctx context.Context, proc *execution.Process, entry *execution.QueueEntry) error {
	payload := messagequeue.StartExecutionPayload{
		ProcessID:   proc.ID,
		WorkspaceID: proc.WorkspaceID,
		RunReason:   proc.RunReason,
	}
	if entry != nil {
		payload.SessionID = entry.SessionID
		payload.ExecutorProfileID = entry.ExecutorProfileID
		payload.ExecutorAction = entry.ExecutorAction
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal start payload: %w", err)
	}
	if err := r.mq.Publish(ctx, messagequeue.SubjectExecutionStart, data); err != nil {
		return fmt.Errorf("start execution %s: %w", proc.ID, err)
	}
	return nil
}

// StopExecution publishes a cancel message for the process.
func (r *Runtime) StopExecution(ctx context.Context, processID string) error {
	data, err := json.Marshal(messagequeue.CancelExecutionPayload{ProcessID: processID})
	if err != nil {
		return fmt.Errorf("marshal cancel payload: %w", err)
	}
	if err := r.mq.Publish(ctx, messagequeue.SubjectExecutionCancel, data); err != nil {
		return fmt.Errorf("stop execution %s: %w", processID, err)
	}
	return nil
}
