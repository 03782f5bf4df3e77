package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

func scanProject(row scannable) (project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.RepoURL, &p.DefaultBranch, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, repo_url, default_branch, version, created_at, updated_at
		 FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, repo_url, default_branch, version, created_at, updated_at
		 FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	branch := req.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO projects (name, description, repo_url, default_branch)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, description, repo_url, default_branch, version, created_at, updated_at`,
		req.Name, req.Description, req.RepoURL, branch)

	p, err := scanProject(row)
	if err != nil {
		if isUnique(err) {
			return nil, fmt.Errorf("create project %q: %w", req.Name, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET name = $2, description = $3, default_branch = $4, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $5`,
		p.ID, p.Name, p.Description, p.DefaultBranch, p.Version)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update project %s: %w", p.ID, domain.ErrConflict)
	}
	p.Version++
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete project %s", id)
}

// --- Tasks ---

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, title, description, status, version, created_at, updated_at
		 FROM tasks WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, title, description, status, version, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (project_id, title, description)
		 VALUES ($1, $2, $3)
		 RETURNING id, project_id, title, description, status, version, created_at, updated_at`,
		req.ProjectID, req.Title, req.Description)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, string(status))
	return execExpectOne(tag, err, "update task status %s", id)
}

// --- Workspaces ---

func scanWorkspace(row scannable) (workspace.Workspace, error) {
	var w workspace.Workspace
	err := row.Scan(&w.ID, &w.TaskID, &w.ProjectID, &w.Branch, &w.Path, &w.CreatedAt)
	return w, err
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*workspace.Workspace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_id, project_id, branch, path, created_at
		 FROM workspaces WHERE id = $1`, id)

	w, err := scanWorkspace(row)
	if err != nil {
		return nil, notFoundWrap(err, "get workspace %s", id)
	}
	return &w, nil
}

func (s *Store) CreateWorkspace(ctx context.Context, req workspace.CreateRequest) (*workspace.Workspace, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO workspaces (task_id, project_id, branch, path)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, task_id, project_id, branch, path, created_at`,
		req.TaskID, req.ProjectID, req.Branch, req.Path)

	w, err := scanWorkspace(row)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &w, nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete workspace %s", id)
}

// --- Execution processes ---

func scanExecution(row scannable) (execution.Process, error) {
	var p execution.Process
	var sessionID, exitError *string
	var completedAt *time.Time
	err := row.Scan(&p.ID, &p.WorkspaceID, &sessionID, &p.RunReason, &p.Status, &exitError, &p.StartedAt, &completedAt)
	if sessionID != nil {
		p.SessionID = *sessionID
	}
	if exitError != nil {
		p.ExitError = *exitError
	}
	if completedAt != nil {
		p.CompletedAt = *completedAt
	}
	return p, err
}

func (s *Store) CreateExecution(ctx context.Context, p *execution.Process) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO execution_processes (id, workspace_id, session_id, run_reason, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING started_at`,
		p.ID, p.WorkspaceID, nullIfEmpty(p.SessionID), string(p.RunReason), string(p.Status))
	if err := row.Scan(&p.StartedAt); err != nil {
		return fmt.Errorf("create execution %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (*execution.Process, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, session_id, run_reason, status, exit_error, started_at, completed_at
		 FROM execution_processes WHERE id = $1`, id)

	p, err := scanExecution(row)
	if err != nil {
		return nil, notFoundWrap(err, "get execution %s", id)
	}
	return &p, nil
}

func (s *Store) CompleteExecution(ctx context.Context, id string, status execution.Status, exitError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_processes SET status = $2, exit_error = $3, completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, string(status), nullIfEmpty(exitError))
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already terminal.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM execution_processes WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("complete execution %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("complete execution %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("complete execution %s: %w", id, domain.ErrConflict)
	}
	return nil
}

// RunningExecutionCount counts processes still in the running status.
func (s *Store) RunningExecutionCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM execution_processes WHERE status = 'running'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count running executions: %w", err)
	}
	return n, nil
}
