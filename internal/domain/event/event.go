// Package event defines the closed set of domain events broadcast to
// registered handlers, and the hook points they map to.
package event

import (
	"fmt"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
)

// Kind identifies an event variant.
type Kind string

const (
	KindTaskStatusChanged  Kind = "task.status_changed"
	KindExecutionCompleted Kind = "execution.completed"
	KindWorkspaceCreated   Kind = "workspace.created"
	KindWorkspaceDeleted   Kind = "workspace.deleted"
	KindProjectUpdated     Kind = "project.updated"
)

// HookPoint is a named lifecycle moment. "pre" hooks run before an
// action and may be probed for a decision; "post" hooks are
// informational only.
type HookPoint string

const (
	// HookPreToolCall is occupied by the approval coordinator: a tool
	// call is held until the decision resolves.
	HookPreToolCall HookPoint = "pre.tool_call"

	HookPostTaskStatusChanged  HookPoint = "post.task.status_changed"
	HookPostExecutionCompleted HookPoint = "post.execution.completed"
	HookPostWorkspaceCreated   HookPoint = "post.workspace.created"
	HookPostWorkspaceDeleted   HookPoint = "post.workspace.deleted"
	HookPostProjectUpdated     HookPoint = "post.project.updated"
)

// Post reports whether the hook point is informational.
func (h HookPoint) Post() bool {
	return len(h) > 5 && h[:5] == "post."
}

// Event is the closed interface over all domain event variants. New
// variants must be added here and to Summary's type switch.
type Event interface {
	Kind() Kind
	Hook() HookPoint
	isEvent()
}

// TaskStatusChanged is emitted after a task transitions between
// statuses. Task carries the new state.
type TaskStatusChanged struct {
	Task           task.Task
	PreviousStatus task.Status
}

// ExecutionCompleted is emitted after an execution process reaches a
// terminal status.
type ExecutionCompleted struct {
	Process execution.Process
	TaskID  string
}

// WorkspaceCreated is emitted after a workspace is provisioned.
type WorkspaceCreated struct {
	Workspace workspace.Workspace
}

// WorkspaceDeleted is emitted after a workspace is torn down.
type WorkspaceDeleted struct {
	WorkspaceID string
	TaskID      string
}

// ProjectUpdated is emitted after project metadata changes.
type ProjectUpdated struct {
	Project project.Project
}

func (TaskStatusChanged) Kind() Kind  { return KindTaskStatusChanged }
func (ExecutionCompleted) Kind() Kind { return KindExecutionCompleted }
func (WorkspaceCreated) Kind() Kind   { return KindWorkspaceCreated }
func (WorkspaceDeleted) Kind() Kind   { return KindWorkspaceDeleted }
func (ProjectUpdated) Kind() Kind     { return KindProjectUpdated }

func (TaskStatusChanged) Hook() HookPoint  { return HookPostTaskStatusChanged }
func (ExecutionCompleted) Hook() HookPoint { return HookPostExecutionCompleted }
func (WorkspaceCreated) Hook() HookPoint   { return HookPostWorkspaceCreated }
func (WorkspaceDeleted) Hook() HookPoint   { return HookPostWorkspaceDeleted }
func (ProjectUpdated) Hook() HookPoint     { return HookPostProjectUpdated }

func (TaskStatusChanged) isEvent()  {}
func (ExecutionCompleted) isEvent() {}
func (WorkspaceCreated) isEvent()   {}
func (WorkspaceDeleted) isEvent()   {}
func (ProjectUpdated) isEvent()     {}

// Summary renders a short human-readable description for logs. The
// default branch panics so an unmatched new variant fails loudly in
// tests rather than falling through silently.
func Summary(ev Event) string {
	switch e := ev.(type) {
	case TaskStatusChanged:
		return fmt.Sprintf("task %s: %s -> %s", e.Task.ID, e.PreviousStatus, e.Task.Status)
	case ExecutionCompleted:
		return fmt.Sprintf("execution %s (%s) finished with %s", e.Process.ID, e.Process.RunReason, e.Process.Status)
	case WorkspaceCreated:
		return fmt.Sprintf("workspace %s created for task %s", e.Workspace.ID, e.Workspace.TaskID)
	case WorkspaceDeleted:
		return fmt.Sprintf("workspace %s deleted (task %s)", e.WorkspaceID, e.TaskID)
	case ProjectUpdated:
		return fmt.Sprintf("project %s updated", e.Project.ID)
	default:
		panic(fmt.Sprintf("event: unhandled variant %T", ev))
	}
}
