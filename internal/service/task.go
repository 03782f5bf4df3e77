package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
)

// TaskService manages tasks and emits status-change events.
type TaskService struct {
	store      database.Store
	dispatcher *Dispatcher
}

// NewTaskService creates a TaskService.
func NewTaskService(store database.Store, dispatcher *Dispatcher) *TaskService {
	return &TaskService{store: store, dispatcher: dispatcher}
}

// List returns all tasks in a project.
func (s *TaskService) List(ctx context.Context, projectID string) ([]task.Task, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID)
}

// Get returns a single task.
func (s *TaskService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// Create creates a task in todo status.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if _, err := s.store.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}
	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("task created", "task_id", t.ID, "project_id", t.ProjectID)
	return t, nil
}

// UpdateStatus transitions a task to status and dispatches the change.
// Setting the current status again is a no-op and emits nothing.
func (s *TaskService) UpdateStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrValidation)
	}

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}

	previous := t.Status
	if err := s.store.UpdateTaskStatus(ctx, id, status); err != nil {
		return nil, err
	}
	t.Status = status

	s.dispatcher.Dispatch(ctx, event.TaskStatusChanged{
		Task:           *t,
		PreviousStatus: previous,
	})
	slog.Info("task status changed", "task_id", id, "from", previous, "to", status)
	return t, nil
}
