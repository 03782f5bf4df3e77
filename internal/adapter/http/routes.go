package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Projects
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.CreateProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Put("/projects/{id}", h.UpdateProject)
		r.Delete("/projects/{id}", h.DeleteProject)

		// Tasks (nested under projects)
		r.Post("/projects/{id}/tasks", h.CreateTask)
		r.Get("/projects/{id}/tasks", h.ListTasks)

		// Tasks (direct access)
		r.Get("/tasks/{id}", h.GetTask)
		r.Put("/tasks/{id}/status", h.UpdateTaskStatus)

		// Task dependencies
		r.Get("/tasks/{id}/dependencies", h.ListBlockedBy)
		r.Post("/tasks/{id}/dependencies", h.CreateDependency)
		r.Delete("/tasks/{id}/dependencies/{depId}", h.DeleteDependency)
		r.Get("/tasks/{id}/dependencies/tree", h.DependencyTree)
		r.Get("/tasks/{id}/dependents", h.ListBlocking)

		// Workspaces
		r.Post("/workspaces", h.CreateWorkspace)
		r.Get("/workspaces/{id}", h.GetWorkspace)
		r.Delete("/workspaces/{id}", h.DeleteWorkspace)
		r.Post("/workspaces/{id}/start", h.StartExecution)
		r.Post("/workspaces/{id}/follow-up", h.FollowUpExecution)

		// Execution queue
		r.Get("/queue", h.ListQueue)
		r.Delete("/queue/{workspaceId}", h.CancelQueued)

		// Approvals
		r.Post("/approvals/{id}/respond", h.RespondApproval)
		r.Get("/approvals/pending", h.ListPendingApprovals)
	})
}
