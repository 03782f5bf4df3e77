// Package task defines the Task domain entity and its dependency edges.
package task

import "time"

// Status represents the kanban column a task currently sits in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inprogress"
	StatusInReview   Status = "inreview"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Task is a unit of agent work inside a project.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Dependency is a directed edge: TaskID is blocked by DependsOnID.
// Unique on the ordered pair (TaskID, DependsOnID).
type Dependency struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	DependsOnID string    `json:"depends_on_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// TreeNode is one node of a dependency tree built for presentation.
type TreeNode struct {
	Task     Task       `json:"task"`
	Children []TreeNode `json:"children,omitempty"`
}
