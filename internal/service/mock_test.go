package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/project"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/workspace"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
)

// mockStore is an in-memory database.Store for service tests.
type mockStore struct {
	mu sync.Mutex

	projects   map[string]*project.Project
	tasks      map[string]*task.Task
	workspaces map[string]*workspace.Workspace
	executions map[string]*execution.Process
	queue      []*execution.QueueEntry
	deps       []*task.Dependency
	approvals  map[string]*approval.Request
	hookRuns   map[string]string // id -> status

	popErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		projects:   make(map[string]*project.Project),
		tasks:      make(map[string]*task.Task),
		workspaces: make(map[string]*workspace.Workspace),
		executions: make(map[string]*execution.Process),
		approvals:  make(map[string]*approval.Request),
		hookRuns:   make(map[string]string),
	}
}

func (m *mockStore) addProject(id string) *project.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &project.Project{ID: id, Name: id, DefaultBranch: "main", Version: 1}
	m.projects[id] = p
	return p
}

func (m *mockStore) addTask(id, projectID string, status task.Status) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task.Task{ID: id, ProjectID: projectID, Title: id, Status: status, Version: 1}
	m.tasks[id] = t
	return t
}

func (m *mockStore) addWorkspace(id, taskID, projectID string) *workspace.Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &workspace.Workspace{ID: id, TaskID: taskID, ProjectID: projectID, Branch: "work/" + id}
	m.workspaces[id] = w
	return w
}

func (m *mockStore) addEdge(taskID, dependsOnID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps = append(m.deps, &task.Dependency{ID: uuid.NewString(), TaskID: taskID, DependsOnID: dependsOnID})
}

// Projects

func (m *mockStore) ListProjects(context.Context) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]project.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &project.Project{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Description:   req.Description,
		RepoURL:       req.RepoURL,
		DefaultBranch: req.DefaultBranch,
		Version:       1,
	}
	m.projects[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *mockStore) UpdateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, domain.ErrNotFound)
	}
	if cur.Version != p.Version {
		return fmt.Errorf("project %s version: %w", p.ID, domain.ErrConflict)
	}
	cp := *p
	cp.Version++
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	delete(m.projects, id)
	return nil
}

// Tasks

func (m *mockStore) ListTasks(_ context.Context, projectID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task.Task{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      task.StatusTodo,
		Version:     1,
	}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *mockStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	return nil
}

// Workspaces

func (m *mockStore) GetWorkspace(_ context.Context, id string) (*workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) CreateWorkspace(_ context.Context, req workspace.CreateRequest) (*workspace.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &workspace.Workspace{
		ID:        uuid.NewString(),
		TaskID:    req.TaskID,
		ProjectID: req.ProjectID,
		Branch:    req.Branch,
		Path:      req.Path,
	}
	m.workspaces[w.ID] = w
	cp := *w
	return &cp, nil
}

func (m *mockStore) DeleteWorkspace(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workspaces[id]; !ok {
		return fmt.Errorf("workspace %s: %w", id, domain.ErrNotFound)
	}
	delete(m.workspaces, id)
	return nil
}

// Executions

func (m *mockStore) CreateExecution(_ context.Context, p *execution.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.StartedAt = time.Now()
	cp := *p
	m.executions[p.ID] = &cp
	return nil
}

func (m *mockStore) GetExecution(_ context.Context, id string) (*execution.Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) CompleteExecution(_ context.Context, id string, status execution.Status, exitError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.executions[id]
	if !ok {
		return fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	if p.Status != execution.StatusRunning {
		return fmt.Errorf("execution %s already finished: %w", id, domain.ErrConflict)
	}
	p.Status = status
	p.ExitError = exitError
	p.CompletedAt = time.Now()
	return nil
}

func (m *mockStore) RunningExecutionCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.executions {
		if p.Status == execution.StatusRunning {
			n++
		}
	}
	return n, nil
}

// Queue

func (m *mockStore) CreateQueueEntry(_ context.Context, e *execution.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queue {
		if q.WorkspaceID == e.WorkspaceID {
			return fmt.Errorf("workspace %s already queued: %w", e.WorkspaceID, domain.ErrConflict)
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = time.Now()
	}
	cp := *e
	m.queue = append(m.queue, &cp)
	return nil
}

func (m *mockStore) PopNextQueueEntry(context.Context) (*execution.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.popErr != nil {
		return nil, m.popErr
	}
	if len(m.queue) == 0 {
		return nil, fmt.Errorf("queue empty: %w", domain.ErrNotFound)
	}
	e := m.queue[0]
	m.queue = m.queue[1:]
	cp := *e
	return &cp, nil
}

func (m *mockStore) GetQueueEntryByWorkspace(_ context.Context, workspaceID string) (*execution.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queue {
		if q.WorkspaceID == workspaceID {
			cp := *q
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("workspace %s not queued: %w", workspaceID, domain.ErrNotFound)
}

func (m *mockStore) ListQueueEntries(context.Context) ([]execution.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]execution.QueueEntry, 0, len(m.queue))
	for _, q := range m.queue {
		out = append(out, *q)
	}
	return out, nil
}

func (m *mockStore) DeleteQueueEntryByWorkspace(_ context.Context, workspaceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q.WorkspaceID == workspaceID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("workspace %s not queued: %w", workspaceID, domain.ErrNotFound)
}

func (m *mockStore) CountQueueEntries(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

// Dependencies

func (m *mockStore) CreateTaskDependency(_ context.Context, _, taskID, dependsOnID string) (*task.Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deps {
		if d.TaskID == taskID && d.DependsOnID == dependsOnID {
			return nil, fmt.Errorf("duplicate edge: %w", domain.ErrConflict)
		}
	}
	if m.pathExistsLocked(taskID, dependsOnID) {
		return nil, fmt.Errorf("edge %s -> %s closes cycle: %w", taskID, dependsOnID, domain.ErrCycleDetected)
	}
	d := &task.Dependency{ID: uuid.NewString(), TaskID: taskID, DependsOnID: dependsOnID, CreatedAt: time.Now()}
	m.deps = append(m.deps, d)
	cp := *d
	return &cp, nil
}

// pathExistsLocked reports whether dependsOn-edges lead from start back
// to target.
func (m *mockStore) pathExistsLocked(target, start string) bool {
	stack := []string{start}
	visited := map[string]bool{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, d := range m.deps {
			if d.TaskID == cur {
				stack = append(stack, d.DependsOnID)
			}
		}
	}
	return false
}

func (m *mockStore) DeleteTaskDependency(_ context.Context, taskID, dependsOnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.deps {
		if d.TaskID == taskID && d.DependsOnID == dependsOnID {
			m.deps = append(m.deps[:i], m.deps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("dependency not found: %w", domain.ErrNotFound)
}

func (m *mockStore) ListDependencies(_ context.Context, projectID string) ([]task.Dependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Dependency
	for _, d := range m.deps {
		if t, ok := m.tasks[d.TaskID]; ok && t.ProjectID == projectID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockStore) FindBlockedBy(_ context.Context, taskID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, d := range m.deps {
		if d.TaskID == taskID {
			if t, ok := m.tasks[d.DependsOnID]; ok {
				out = append(out, *t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) FindBlocking(_ context.Context, taskID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, d := range m.deps {
		if d.DependsOnID == taskID {
			if t, ok := m.tasks[d.TaskID]; ok {
				out = append(out, *t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Approvals

func (m *mockStore) CreateApproval(_ context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.CreatedAt = time.Now()
	cp := *req
	m.approvals[req.ID] = &cp
	return nil
}

func (m *mockStore) GetApproval(_ context.Context, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok {
		return nil, fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (m *mockStore) UpdateApprovalStatus(_ context.Context, id string, status approval.Status, reason string, answers []approval.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.approvals[id]
	if !ok {
		return fmt.Errorf("approval %s: %w", id, domain.ErrNotFound)
	}
	if req.Status != approval.StatusPending {
		return fmt.Errorf("approval %s already resolved: %w", id, domain.ErrConflict)
	}
	req.Status = status
	req.Reason = reason
	req.Answers = answers
	return nil
}

func (m *mockStore) ListPendingApprovals(context.Context) ([]approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []approval.Request
	for _, req := range m.approvals {
		if req.Status == approval.StatusPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Hook runs

func (m *mockStore) CreateHookRun(_ context.Context, id, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hookRuns[id] = "running"
	return nil
}

func (m *mockStore) CompleteHookRun(_ context.Context, id, status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hookRuns[id]; !ok {
		return fmt.Errorf("hook run %s: %w", id, domain.ErrNotFound)
	}
	m.hookRuns[id] = status
	return nil
}

func (m *mockStore) hookRunStatuses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.hookRuns))
	for _, s := range m.hookRuns {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// mockQueue records published messages.
type mockQueue struct {
	mu         sync.Mutex
	published  map[string][][]byte
	publishErr error
	connected  bool
}

func newMockQueue() *mockQueue {
	return &mockQueue{published: make(map[string][][]byte), connected: true}
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published[subject] = append(m.published[subject], data)
	return nil
}

func (m *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return m.connected }

func (m *mockQueue) count(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published[subject])
}

// mockHub records broadcast events.
type mockHub struct {
	mu     sync.Mutex
	events []broadcast.EventType
}

func (m *mockHub) BroadcastEvent(_ context.Context, t broadcast.EventType, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, t)
}

func (m *mockHub) ConnectionCount() int { return 0 }

func (m *mockHub) count(t broadcast.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == t {
			n++
		}
	}
	return n
}

// mockRuntime fakes the execution runtime.
type mockRuntime struct {
	mu       sync.Mutex
	store    *mockStore
	started  []string
	stopped  []string
	startErr error
}

func newMockRuntime(store *mockStore) *mockRuntime {
	return &mockRuntime{store: store}
}

func (m *mockRuntime) RunningCount(ctx context.Context) (int, error) {
	return m.store.RunningExecutionCount(ctx)
}

func (m *mockRuntime) StartExecution(_ context.Context, p *execution.Process, _ *execution.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, p.ID)
	return nil
}

func (m *mockRuntime) StopExecution(_ context.Context, processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, processID)
	return nil
}

func (m *mockRuntime) startedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}
