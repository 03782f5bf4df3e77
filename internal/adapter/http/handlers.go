package http

import (
	"net/http"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ws"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
	"github.com/outerlook/vibe-kanban-sub002/internal/resilience"
	"github.com/outerlook/vibe-kanban-sub002/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Projects     *service.ProjectService
	Tasks        *service.TaskService
	Workspaces   *service.WorkspaceService
	Dependencies *service.DependencyService
	Scheduler    *service.Scheduler
	Approvals    *service.ApprovalService
	Hub          *ws.Hub
	Queue        messagequeue.Queue
	Breaker      *resilience.Breaker
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.Queue.IsConnected() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"ws_clients":    h.Hub.ConnectionCount(),
		"nats":          h.Queue.IsConnected(),
		"dispatch":      h.Breaker.State(),
		"pending_holds": h.Approvals.PendingCount(),
	})
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Projects.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "projects not found")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[project.CreateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Projects.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Projects.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[project.UpdateRequest](w, r)
	if !ok {
		return
	}
	p, err := h.Projects.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Projects.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Tasks.List(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	req.ProjectID = urlParam(r, "id")
	t, err := h.Tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateTaskStatusRequest struct {
	Status task.Status `json:"status"`
}

func (h *Handlers) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updateTaskStatusRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tasks.UpdateStatus(r.Context(), urlParam(r, "id"), req.Status)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ---------------------------------------------------------------------------
// Task dependencies
// ---------------------------------------------------------------------------

func (h *Handlers) ListBlockedBy(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Dependencies.ListBlockedBy(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) ListBlocking(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Dependencies.ListBlocking(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type createDependencyRequest struct {
	DependsOnID string `json:"depends_on_id"`
}

func (h *Handlers) CreateDependency(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createDependencyRequest](w, r)
	if !ok {
		return
	}
	if req.DependsOnID == "" {
		writeError(w, http.StatusBadRequest, "depends_on_id is required")
		return
	}
	edge, err := h.Dependencies.Create(r.Context(), urlParam(r, "id"), req.DependsOnID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (h *Handlers) DeleteDependency(w http.ResponseWriter, r *http.Request) {
	err := h.Dependencies.Delete(r.Context(), urlParam(r, "id"), urlParam(r, "depId"))
	if err != nil {
		writeDomainError(w, err, "dependency not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DependencyTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Dependencies.BuildTree(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// ---------------------------------------------------------------------------
// Workspaces
// ---------------------------------------------------------------------------

func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[workspace.CreateRequest](w, r)
	if !ok {
		return
	}
	wsp, err := h.Workspaces.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, wsp)
}

func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	wsp, err := h.Workspaces.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, wsp)
}

func (h *Handlers) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.Workspaces.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Execution queue
// ---------------------------------------------------------------------------

// startResponse reports whether the request started immediately or was
// queued, with the corresponding record.
type startResponse struct {
	Started bool                  `json:"started"`
	Process *execution.Process    `json:"process,omitempty"`
	Queued  *execution.QueueEntry `json:"queued,omitempty"`
}

type startExecutionRequest struct {
	ExecutorProfileID string `json:"executor_profile_id"`
}

func (h *Handlers) StartExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startExecutionRequest](w, r)
	if !ok {
		return
	}
	proc, entry, err := h.Scheduler.StartOrEnqueue(r.Context(), urlParam(r, "id"), req.ExecutorProfileID)
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	status := http.StatusCreated
	if proc == nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, startResponse{Started: proc != nil, Process: proc, Queued: entry})
}

type followUpRequest struct {
	SessionID      string                    `json:"session_id"`
	ExecutorAction *execution.ExecutorAction `json:"executor_action"`
}

func (h *Handlers) FollowUpExecution(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[followUpRequest](w, r)
	if !ok {
		return
	}
	proc, entry, err := h.Scheduler.FollowUp(r.Context(), urlParam(r, "id"), req.SessionID, req.ExecutorAction)
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	status := http.StatusCreated
	if proc == nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, startResponse{Started: proc != nil, Process: proc, Queued: entry})
}

func (h *Handlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Scheduler.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handlers) CancelQueued(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Cancel(r.Context(), urlParam(r, "workspaceId")); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

func (h *Handlers) RespondApproval(w http.ResponseWriter, r *http.Request) {
	resp, ok := readJSON[approval.Response](w, r)
	if !ok {
		return
	}
	status, err := h.Approvals.Respond(r.Context(), urlParam(r, "id"), resp)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Approvals.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err, "approvals unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}
