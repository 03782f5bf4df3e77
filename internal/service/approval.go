package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/otel"
	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/ws"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
)

// pendingApproval is the in-memory slot for one unresolved request.
// status starts empty and is claimed exactly once, under the service
// mutex, by whichever resolution path wins. done carries the terminal
// status to the waiter; it is buffered so the winner never blocks.
type pendingApproval struct {
	executionProcessID string
	createdAt          time.Time
	timer              *time.Timer
	status             approval.Status
	done               chan approval.Status
}

// Waiter is a one-shot handle on a pending approval. Wait blocks the
// calling goroutine until the request resolves or ctx is done.
type Waiter struct {
	ch <-chan approval.Status
}

// Wait returns the terminal status the request resolved to.
func (w Waiter) Wait(ctx context.Context) (approval.Status, error) {
	select {
	case status := <-w.ch:
		return status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ApprovalService coordinates human-in-the-loop decisions. A request
// moves from pending to exactly one terminal status exactly once: the
// explicit responder and the timeout timer race, the first resolution
// wins, and the loser is a silent no-op.
type ApprovalService struct {
	store   database.Store
	mq      messagequeue.Queue
	hub     broadcast.Broadcaster
	metrics *otel.Metrics
	timeout time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingApproval
	byProcess map[string]map[string]struct{}
}

// NewApprovalService creates an ApprovalService. timeout bounds how
// long requests stay pending before resolving to timed_out.
func NewApprovalService(store database.Store, mq messagequeue.Queue, hub broadcast.Broadcaster, metrics *otel.Metrics, timeout time.Duration) *ApprovalService {
	return &ApprovalService{
		store:     store,
		mq:        mq,
		hub:       hub,
		metrics:   metrics,
		timeout:   timeout,
		pending:   make(map[string]*pendingApproval),
		byProcess: make(map[string]map[string]struct{}),
	}
}

// CreateWithWaiter persists the request, registers the in-memory
// resolution slot, arms the timeout timer, and returns a one-shot
// waiter. The request's ID and TimeoutAt are assigned here.
func (s *ApprovalService) CreateWithWaiter(ctx context.Context, req *approval.Request) (*Waiter, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	req.ID = uuid.NewString()
	req.Status = approval.StatusPending
	if req.TimeoutAt.IsZero() {
		req.TimeoutAt = time.Now().UTC().Add(s.timeout)
	}

	if err := s.store.CreateApproval(ctx, req); err != nil {
		return nil, err
	}

	id := req.ID
	slot := &pendingApproval{
		executionProcessID: req.ExecutionProcessID,
		createdAt:          time.Now(),
		done:               make(chan approval.Status, 1),
	}

	// The timer is armed while the mutex is held, after the slot is in
	// the map: a deadline already in the past fires on a goroutine that
	// blocks on the mutex until the slot is visible, so the timeout
	// resolution can never miss the slot.
	s.mu.Lock()
	s.pending[id] = slot
	procSet, ok := s.byProcess[req.ExecutionProcessID]
	if !ok {
		procSet = make(map[string]struct{})
		s.byProcess[req.ExecutionProcessID] = procSet
	}
	procSet[id] = struct{}{}
	slot.timer = time.AfterFunc(time.Until(req.TimeoutAt), func() {
		s.resolve(context.Background(), id, approval.StatusTimedOut, "approval timed out", nil)
	})
	s.mu.Unlock()

	s.hub.BroadcastEvent(ctx, broadcast.EventApprovalRequested, ws.ApprovalRequestedEvent{
		ApprovalID:         id,
		RequestType:        string(req.RequestType),
		ToolName:           req.ToolName,
		ExecutionProcessID: req.ExecutionProcessID,
	})

	slog.Info("approval requested",
		"approval_id", id,
		"request_type", req.RequestType,
		"execution_process_id", req.ExecutionProcessID,
		"timeout_at", req.TimeoutAt,
	)

	return &Waiter{ch: slot.done}, nil
}

// Respond resolves a pending request with an external decision. If the
// request already resolved (explicitly or by timeout) the call is a
// no-op and the winner's terminal status is returned.
func (s *ApprovalService) Respond(ctx context.Context, id string, resp approval.Response) (approval.Status, error) {
	req, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return "", err
	}
	if resp.ExecutionProcessID != "" && resp.ExecutionProcessID != req.ExecutionProcessID {
		return "", fmt.Errorf("response process %s does not match request process %s: %w",
			resp.ExecutionProcessID, req.ExecutionProcessID, domain.ErrValidation)
	}

	terminal, err := req.TerminalStatus(resp)
	if err != nil {
		return "", err
	}

	if s.resolve(ctx, id, terminal, resp.Reason, resp.Answers) {
		return terminal, nil
	}

	// Lost the race. The winner claims the slot before it persists, so
	// while the slot is still present it carries the winning status;
	// once it is gone the store row is already terminal.
	s.mu.Lock()
	if slot, ok := s.pending[id]; ok && slot.status.Terminal() {
		won := slot.status
		s.mu.Unlock()
		return won, nil
	}
	s.mu.Unlock()

	stored, err := s.store.GetApproval(ctx, id)
	if err != nil {
		return "", err
	}
	if !stored.Status.Terminal() {
		return "", fmt.Errorf("approval %s resolved but still pending: %w", id, domain.ErrProtocol)
	}
	return stored.Status, nil
}

// resolve applies the terminal status. Returns false when the request
// was already claimed by another resolution.
func (s *ApprovalService) resolve(ctx context.Context, id string, status approval.Status, reason string, answers []approval.Answer) bool {
	s.mu.Lock()
	slot, ok := s.pending[id]
	if !ok || slot.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	slot.status = status
	s.mu.Unlock()

	slot.timer.Stop()

	if err := s.store.UpdateApprovalStatus(ctx, id, status, reason, answers); err != nil {
		slog.Error("approval status update failed", "approval_id", id, "status", status, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ApprovalsResolved.Add(ctx, 1)
		s.metrics.ApprovalWait.Record(ctx, time.Since(slot.createdAt).Seconds())
	}

	slot.done <- status
	s.publishResolved(ctx, id, slot.executionProcessID, status, reason, answers)

	s.mu.Lock()
	delete(s.pending, id)
	if procSet, found := s.byProcess[slot.executionProcessID]; found {
		delete(procSet, id)
		if len(procSet) == 0 {
			delete(s.byProcess, slot.executionProcessID)
		}
	}
	s.mu.Unlock()

	slog.Info("approval resolved", "approval_id", id, "status", status)
	return true
}

// publishResolved pushes the decision to the owning agent process and
// to connected clients.
func (s *ApprovalService) publishResolved(ctx context.Context, id, processID string, status approval.Status, reason string, answers []approval.Answer) {
	payload := messagequeue.ApprovalResolvedPayload{
		ApprovalID:         id,
		ExecutionProcessID: processID,
		Status:             status,
		Reason:             reason,
		Answers:            answers,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal approval resolved payload", "approval_id", id, "error", err)
	} else if err := s.mq.Publish(ctx, messagequeue.SubjectApprovalResolved, data); err != nil {
		slog.Error("publish approval resolved", "approval_id", id, "error", err)
	}

	s.hub.BroadcastEvent(ctx, broadcast.EventApprovalResolved, ws.ApprovalResolvedEvent{
		ApprovalID: id,
		Status:     string(status),
	})
}

// UnregisterPeer force-resolves every still-pending request bound to
// the given execution process to timed_out. Called when the process
// terminates so waiters never hang on a dead peer.
func (s *ApprovalService) UnregisterPeer(ctx context.Context, executionProcessID string) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.byProcess[executionProcessID]))
	for id := range s.byProcess[executionProcessID] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if s.resolve(ctx, id, approval.StatusTimedOut, "execution process terminated", nil) {
			slog.Warn("approval force-resolved, peer gone",
				"approval_id", id,
				"execution_process_id", executionProcessID,
			)
		}
	}
}

// ListPending returns all unresolved requests.
func (s *ApprovalService) ListPending(ctx context.Context) ([]approval.Request, error) {
	return s.store.ListPendingApprovals(ctx)
}

// PendingCount reports the number of in-memory pending slots.
func (s *ApprovalService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
