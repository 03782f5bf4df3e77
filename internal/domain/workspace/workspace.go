// Package workspace defines the Workspace domain entity.
package workspace

import "time"

// Workspace is an isolated working copy in which one task's agent work
// executes. A workspace may accumulate several sessions over its life.
type Workspace struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	Branch    string    `json:"branch"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest holds the fields needed to create a new workspace.
type CreateRequest struct {
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Branch    string `json:"branch"`
	Path      string `json:"path,omitempty"`
}
