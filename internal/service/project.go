package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
)

// ProjectService manages projects.
type ProjectService struct {
	store      database.Store
	dispatcher *Dispatcher
}

// NewProjectService creates a ProjectService.
func NewProjectService(store database.Store, dispatcher *Dispatcher) *ProjectService {
	return &ProjectService{store: store, dispatcher: dispatcher}
}

// List returns all projects.
func (s *ProjectService) List(ctx context.Context) ([]project.Project, error) {
	return s.store.ListProjects(ctx)
}

// Get returns a single project.
func (s *ProjectService) Get(ctx context.Context, id string) (*project.Project, error) {
	return s.store.GetProject(ctx, id)
}

// Create creates a project. DefaultBranch falls back to "main".
func (s *ProjectService) Create(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if req.DefaultBranch == "" {
		req.DefaultBranch = "main"
	}
	p, err := s.store.CreateProject(ctx, req)
	if err != nil {
		return nil, err
	}
	slog.Info("project created", "project_id", p.ID, "name", p.Name)
	return p, nil
}

// Update applies the mutable fields and dispatches ProjectUpdated. The
// version check in the store rejects concurrent writers.
func (s *ProjectService) Update(ctx context.Context, id string, req project.UpdateRequest) (*project.Project, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrValidation)
	}

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = req.Name
	p.Description = req.Description
	if req.DefaultBranch != "" {
		p.DefaultBranch = req.DefaultBranch
	}

	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, event.ProjectUpdated{Project: *p})
	slog.Info("project updated", "project_id", id)
	return p, nil
}

// Delete removes a project and everything under it.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	slog.Info("project deleted", "project_id", id)
	return nil
}
