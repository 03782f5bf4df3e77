package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
)

// WorkspaceService manages workspaces and their lifecycle events.
type WorkspaceService struct {
	store      database.Store
	dispatcher *Dispatcher
	scheduler  *Scheduler
	approvals  *ApprovalService
}

// NewWorkspaceService creates a WorkspaceService.
func NewWorkspaceService(store database.Store, dispatcher *Dispatcher, scheduler *Scheduler, approvals *ApprovalService) *WorkspaceService {
	return &WorkspaceService{
		store:      store,
		dispatcher: dispatcher,
		scheduler:  scheduler,
		approvals:  approvals,
	}
}

// Get returns a single workspace.
func (s *WorkspaceService) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	return s.store.GetWorkspace(ctx, id)
}

// Create provisions a workspace for a task and dispatches the creation.
func (s *WorkspaceService) Create(ctx context.Context, req workspace.CreateRequest) (*workspace.Workspace, error) {
	if req.Branch == "" {
		return nil, fmt.Errorf("branch is required: %w", domain.ErrValidation)
	}
	t, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.ProjectID == "" {
		req.ProjectID = t.ProjectID
	} else if req.ProjectID != t.ProjectID {
		return nil, fmt.Errorf("workspace project %s does not match task project %s: %w",
			req.ProjectID, t.ProjectID, domain.ErrValidation)
	}

	w, err := s.store.CreateWorkspace(ctx, req)
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, event.WorkspaceCreated{Workspace: *w})
	slog.Info("workspace created", "workspace_id", w.ID, "task_id", w.TaskID)
	return w, nil
}

// Delete tears a workspace down. Any queued execution for it is
// cancelled first so the queue never refers to a dead workspace.
func (s *WorkspaceService) Delete(ctx context.Context, id string) error {
	w, err := s.store.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}

	if err := s.scheduler.Cancel(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteWorkspace(ctx, id); err != nil {
		return err
	}

	s.dispatcher.Dispatch(ctx, event.WorkspaceDeleted{
		WorkspaceID: id,
		TaskID:      w.TaskID,
	})
	slog.Info("workspace deleted", "workspace_id", id, "task_id", w.TaskID)
	return nil
}
