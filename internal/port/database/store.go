// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
)

// Store is the port interface for database operations.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	UpdateProject(ctx context.Context, p *project.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Tasks
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error

	// Workspaces
	GetWorkspace(ctx context.Context, id string) (*workspace.Workspace, error)
	CreateWorkspace(ctx context.Context, req workspace.CreateRequest) (*workspace.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error

	// Execution processes
	CreateExecution(ctx context.Context, p *execution.Process) error
	GetExecution(ctx context.Context, id string) (*execution.Process, error)
	CompleteExecution(ctx context.Context, id string, status execution.Status, exitError string) error
	RunningExecutionCount(ctx context.Context) (int, error)

	// Execution queue. PopNextQueueEntry atomically selects and removes
	// the oldest entry; concurrent callers never receive the same entry.
	CreateQueueEntry(ctx context.Context, e *execution.QueueEntry) error
	PopNextQueueEntry(ctx context.Context) (*execution.QueueEntry, error)
	GetQueueEntryByWorkspace(ctx context.Context, workspaceID string) (*execution.QueueEntry, error)
	ListQueueEntries(ctx context.Context) ([]execution.QueueEntry, error)
	DeleteQueueEntryByWorkspace(ctx context.Context, workspaceID string) error
	CountQueueEntries(ctx context.Context) (int, error)

	// Task dependencies. CreateTaskDependency runs the cycle check and
	// the insert atomically with respect to other inserts on the same
	// project.
	CreateTaskDependency(ctx context.Context, projectID, taskID, dependsOnID string) (*task.Dependency, error)
	DeleteTaskDependency(ctx context.Context, taskID, dependsOnID string) error
	ListDependencies(ctx context.Context, projectID string) ([]task.Dependency, error)
	FindBlockedBy(ctx context.Context, taskID string) ([]task.Task, error)
	FindBlocking(ctx context.Context, taskID string) ([]task.Task, error)

	// Approvals. UpdateApprovalStatus only succeeds while the stored
	// status is still pending, making resolution set-once at the
	// database level as well.
	CreateApproval(ctx context.Context, req *approval.Request) error
	GetApproval(ctx context.Context, id string) (*approval.Request, error)
	UpdateApprovalStatus(ctx context.Context, id string, status approval.Status, reason string, answers []approval.Answer) error
	ListPendingApprovals(ctx context.Context) ([]approval.Request, error)

	// Hook runs (spawned handler observability)
	CreateHookRun(ctx context.Context, id, handler, eventKind string) error
	CompleteHookRun(ctx context.Context, id, status, errMsg string) error
}
