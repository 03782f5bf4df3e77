package postgres

import (
	"context"
	"fmt"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
)

func scanDependency(row scannable) (task.Dependency, error) {
	var d task.Dependency
	err := row.Scan(&d.ID, &d.TaskID, &d.DependsOnID, &d.CreatedAt)
	return d, err
}

// CreateTaskDependency inserts a dependency edge after verifying the
// edge would not close a cycle. A per-project advisory lock serializes
// the check-then-insert against concurrent edge creation on the same
// project; edges in other projects proceed in parallel.
func (s *Store) CreateTaskDependency(ctx context.Context, projectID, taskID, dependsOnID string) (*task.Dependency, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("create dependency: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Held until commit or rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, projectID); err != nil {
		return nil, fmt.Errorf("create dependency: lock project %s: %w", projectID, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT d.task_id, d.depends_on_id
		 FROM task_dependencies d
		 JOIN tasks t ON t.id = d.task_id
		 WHERE t.project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("create dependency: load edges: %w", err)
	}

	edges := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			rows.Close()
			return nil, fmt.Errorf("create dependency: scan edge: %w", err)
		}
		edges[from] = append(edges[from], to)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("create dependency: load edges: %w", err)
	}

	if path := cyclePath(edges, taskID, dependsOnID); path != nil {
		return nil, fmt.Errorf("edge %s -> %s closes cycle %v: %w", taskID, dependsOnID, path, domain.ErrCycleDetected)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO task_dependencies (task_id, depends_on_id)
		 VALUES ($1, $2)
		 RETURNING id, task_id, depends_on_id, created_at`,
		taskID, dependsOnID)

	d, err := scanDependency(row)
	if err != nil {
		if isUnique(err) {
			return nil, fmt.Errorf("dependency %s -> %s already exists: %w", taskID, dependsOnID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("create dependency: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("create dependency: commit: %w", err)
	}
	return &d, nil
}

// cyclePath reports whether adding the edge from -> to would close a
// cycle, by walking existing edges from "to" looking for "from". It
// returns the path that closes the cycle, or nil.
func cyclePath(edges map[string][]string, from, to string) []string {
	type frame struct {
		node string
		path []string
	}
	visited := map[string]bool{}
	stack := []frame{{node: to, path: []string{from, to}}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node == from {
			return f.path
		}
		if visited[f.node] {
			continue
		}
		visited[f.node] = true

		for _, next := range edges[f.node] {
			path := make([]string, len(f.path), len(f.path)+1)
			copy(path, f.path)
			stack = append(stack, frame{node: next, path: append(path, next)})
		}
	}
	return nil
}

func (s *Store) DeleteTaskDependency(ctx context.Context, taskID, dependsOnID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_id = $2`,
		taskID, dependsOnID)
	return execExpectOne(tag, err, "delete dependency %s -> %s", taskID, dependsOnID)
}

func (s *Store) ListDependencies(ctx context.Context, projectID string) ([]task.Dependency, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.task_id, d.depends_on_id, d.created_at
		 FROM task_dependencies d
		 JOIN tasks t ON t.id = d.task_id
		 WHERE t.project_id = $1
		 ORDER BY d.created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []task.Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// FindBlockedBy returns the tasks that taskID depends on (its blockers).
func (s *Store) FindBlockedBy(ctx context.Context, taskID string) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT t.id, t.project_id, t.title, t.description, t.status, t.version, t.created_at, t.updated_at
		 FROM tasks t
		 JOIN task_dependencies d ON d.depends_on_id = t.id
		 WHERE d.task_id = $1
		 ORDER BY t.created_at`, taskID)
}

// FindBlocking returns the tasks that depend on taskID (its dependents).
func (s *Store) FindBlocking(ctx context.Context, taskID string) ([]task.Task, error) {
	return s.queryTasks(ctx,
		`SELECT t.id, t.project_id, t.title, t.description, t.status, t.version, t.created_at, t.updated_at
		 FROM tasks t
		 JOIN task_dependencies d ON d.task_id = t.id
		 WHERE d.depends_on_id = $1
		 ORDER BY t.created_at`, taskID)
}

func (s *Store) queryTasks(ctx context.Context, sql string, args ...any) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
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
