package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/cache"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
)

// DependencyService manages the blocked-by edges between tasks of a
// project. The graph is kept acyclic; edge inserts that would close a
// cycle are rejected by the store's atomic check.
type DependencyService struct {
	store    database.Store
	cache    cache.Cache
	maxDepth int
	treeTTL  time.Duration
}

// NewDependencyService creates a DependencyService. cache may be nil to
// disable tree caching.
func NewDependencyService(store database.Store, c cache.Cache, maxDepth int, treeTTL time.Duration) *DependencyService {
	return &DependencyService{
		store:    store,
		cache:    c,
		maxDepth: maxDepth,
		treeTTL:  treeTTL,
	}
}

// Create adds a blocked-by edge: taskID waits on dependsOnID. Both
// tasks must exist and belong to the same project.
func (s *DependencyService) Create(ctx context.Context, taskID, dependsOnID string) (*task.Dependency, error) {
	if taskID == dependsOnID {
		return nil, fmt.Errorf("task cannot depend on itself: %w", domain.ErrValidation)
	}

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	dep, err := s.store.GetTask(ctx, dependsOnID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", dependsOnID, err)
	}
	if t.ProjectID != dep.ProjectID {
		return nil, fmt.Errorf("tasks %s and %s belong to different projects: %w", taskID, dependsOnID, domain.ErrValidation)
	}

	edge, err := s.store.CreateTaskDependency(ctx, t.ProjectID, taskID, dependsOnID)
	if err != nil {
		return nil, err
	}

	s.invalidateTree(ctx, taskID, dependsOnID)
	slog.Info("dependency created", "task_id", taskID, "depends_on_id", dependsOnID)
	return edge, nil
}

// Delete removes the edge between taskID and dependsOnID.
func (s *DependencyService) Delete(ctx context.Context, taskID, dependsOnID string) error {
	if err := s.store.DeleteTaskDependency(ctx, taskID, dependsOnID); err != nil {
		return err
	}
	s.invalidateTree(ctx, taskID, dependsOnID)
	slog.Info("dependency deleted", "task_id", taskID, "depends_on_id", dependsOnID)
	return nil
}

// List returns every edge in the project.
func (s *DependencyService) List(ctx context.Context, projectID string) ([]task.Dependency, error) {
	return s.store.ListDependencies(ctx, projectID)
}

// ListBlockedBy returns the tasks taskID is waiting on.
func (s *DependencyService) ListBlockedBy(ctx context.Context, taskID string) ([]task.Task, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.FindBlockedBy(ctx, taskID)
}

// ListBlocking returns the tasks that wait on taskID.
func (s *DependencyService) ListBlocking(ctx context.Context, taskID string) ([]task.Task, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.FindBlocking(ctx, taskID)
}

// UnblockedDependents returns the dependents of a completed task that
// are now free to start: still in todo, with every remaining blocker
// done.
func (s *DependencyService) UnblockedDependents(ctx context.Context, completedTaskID string) ([]task.Task, error) {
	dependents, err := s.store.FindBlocking(ctx, completedTaskID)
	if err != nil {
		return nil, err
	}

	var unblocked []task.Task
	for _, dep := range dependents {
		if dep.Status != task.StatusTodo {
			continue
		}
		blockers, err := s.store.FindBlockedBy(ctx, dep.ID)
		if err != nil {
			return nil, err
		}
		allDone := true
		for _, b := range blockers {
			if b.Status != task.StatusDone {
				allDone = false
				break
			}
		}
		if allDone {
			unblocked = append(unblocked, dep)
		}
	}
	return unblocked, nil
}

// BuildTree assembles the blocked-by tree rooted at taskID, depth
// limited to the configured maximum. Results are cached briefly; edge
// mutations invalidate the endpoints, so a cached tree can be stale for
// at most the TTL on edges further away.
func (s *DependencyService) BuildTree(ctx context.Context, taskID string) (*task.TreeNode, error) {
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, treeKey(taskID)); err == nil && ok {
			var node task.TreeNode
			if err := json.Unmarshal(data, &node); err == nil {
				return &node, nil
			}
		}
	}

	root, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{taskID: true}
	node, err := s.buildSubtree(ctx, *root, seen, 1)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(node); err == nil {
			if err := s.cache.Set(ctx, treeKey(taskID), data, s.treeTTL); err != nil {
				slog.Warn("dependency tree cache set failed", "task_id", taskID, "error", err)
			}
		}
	}
	return node, nil
}

// buildSubtree walks blockers depth-first. seen holds the current root
// path; hitting a task already on the path means the stored graph has a
// cycle the insert guard should have prevented.
func (s *DependencyService) buildSubtree(ctx context.Context, t task.Task, seen map[string]bool, depth int) (*task.TreeNode, error) {
	node := &task.TreeNode{Task: t}
	if depth >= s.maxDepth {
		return node, nil
	}

	blockers, err := s.store.FindBlockedBy(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range blockers {
		if seen[b.ID] {
			return nil, fmt.Errorf("task %s appears twice on dependency path: %w", b.ID, domain.ErrCycleDetected)
		}
		seen[b.ID] = true
		child, err := s.buildSubtree(ctx, b, seen, depth+1)
		if err != nil {
			return nil, err
		}
		delete(seen, b.ID)
		node.Children = append(node.Children, *child)
	}
	return node, nil
}

func (s *DependencyService) invalidateTree(ctx context.Context, taskIDs ...string) {
	if s.cache == nil {
		return
	}
	for _, id := range taskIDs {
		if err := s.cache.Delete(ctx, treeKey(id)); err != nil {
			slog.Warn("dependency tree cache delete failed", "task_id", id, "error", err)
		}
	}
}

func treeKey(taskID string) string {
	return "deptree:" + taskID
}
