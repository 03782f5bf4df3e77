// Package project defines the Project domain entity.
package project

import "time"

// Project groups tasks that share one repository.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	RepoURL       string    `json:"repo_url,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new project.
type CreateRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	RepoURL       string `json:"repo_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// UpdateRequest holds the mutable project fields.
type UpdateRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}
