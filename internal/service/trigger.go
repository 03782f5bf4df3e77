package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
)

// NewTriggerRouter wires trigger requests to the scheduler and task
// service. A feedback request against a workspace that already has a
// queued entry is dropped rather than failed.
func NewTriggerRouter(scheduler *Scheduler, tasks *TaskService) TriggerFunc {
	return func(ctx context.Context, t execution.Trigger) error {
		switch tr := t.(type) {
		case execution.FeedbackCollection:
			_, _, err := scheduler.StartFeedback(ctx, tr.WorkspaceID)
			if errors.Is(err, domain.ErrConflict) {
				slog.Debug("feedback run skipped, workspace busy", "workspace_id", tr.WorkspaceID)
				return nil
			}
			return err
		case execution.ReviewAttention:
			_, err := tasks.UpdateStatus(ctx, tr.TaskID, task.StatusInReview)
			return err
		default:
			return fmt.Errorf("unknown trigger %T: %w", t, domain.ErrValidation)
		}
	}
}
