package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outerlook/vibe-kanban-sub002/internal/adapter/otel"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/approval"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/database"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
)

// Consumer subscribes to worker-originated subjects and feeds them into
// the core: completions close out execution processes and approvals
// open waiter-backed requests.
type Consumer struct {
	store      database.Store
	mq         messagequeue.Queue
	dispatcher *Dispatcher
	approvals  *ApprovalService
	metrics    *otel.Metrics

	cancels []func()
}

// NewConsumer creates a Consumer.
func NewConsumer(store database.Store, mq messagequeue.Queue, dispatcher *Dispatcher, approvals *ApprovalService, metrics *otel.Metrics) *Consumer {
	return &Consumer{
		store:      store,
		mq:         mq,
		dispatcher: dispatcher,
		approvals:  approvals,
		metrics:    metrics,
	}
}

// Start registers all subscriptions. Call Stop to cancel them.
func (c *Consumer) Start(ctx context.Context) error {
	subs := []struct {
		subject string
		handler messagequeue.Handler
	}{
		{messagequeue.SubjectExecutionCompleted, c.handleExecutionCompleted},
		{messagequeue.SubjectApprovalRequested, c.handleApprovalRequested},
	}

	for _, s := range subs {
		cancel, err := c.mq.Subscribe(ctx, s.subject, s.handler)
		if err != nil {
			c.Stop()
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
		c.cancels = append(c.cancels, cancel)
		slog.Info("subscribed", "subject", s.subject)
	}
	return nil
}

// Stop cancels all subscriptions.
func (c *Consumer) Stop() {
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
}

// handleExecutionCompleted marks the process terminal, releases any
// approvals still waiting on it, and dispatches ExecutionCompleted.
// A repeated delivery for an already-finished process acks quietly.
func (c *Consumer) handleExecutionCompleted(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.ExecutionCompletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode completion payload: %w", err)
	}
	if payload.ProcessID == "" {
		return fmt.Errorf("completion payload missing process_id: %w", domain.ErrValidation)
	}

	err := c.store.CompleteExecution(ctx, payload.ProcessID, payload.Status, payload.ExitError)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Debug("completion already recorded", "process_id", payload.ProcessID)
			return nil
		}
		return fmt.Errorf("complete execution %s: %w", payload.ProcessID, err)
	}

	proc, err := c.store.GetExecution(ctx, payload.ProcessID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", payload.ProcessID, err)
	}

	c.approvals.UnregisterPeer(ctx, proc.ID)

	taskID := ""
	if ws, err := c.store.GetWorkspace(ctx, proc.WorkspaceID); err == nil {
		taskID = ws.TaskID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load workspace %s: %w", proc.WorkspaceID, err)
	}

	if c.metrics != nil {
		c.metrics.ExecutionsFinished.Add(ctx, 1)
	}

	c.dispatcher.Dispatch(ctx, event.ExecutionCompleted{
		Process: *proc,
		TaskID:  taskID,
	})
	return nil
}

// handleApprovalRequested opens a waiter-backed request. The worker
// blocks on the approvals.resolved subject, not on this handler, so
// the waiter handle is discarded here.
func (c *Consumer) handleApprovalRequested(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.ApprovalRequestedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode approval payload: %w", err)
	}

	req := &approval.Request{
		RequestType:        payload.RequestType,
		ToolCallID:         payload.ToolCallID,
		ToolName:           payload.ToolName,
		ToolInput:          payload.ToolInput,
		Questions:          payload.Questions,
		ExecutionProcessID: payload.ExecutionProcessID,
	}

	if _, err := c.approvals.CreateWithWaiter(ctx, req); err != nil {
		return fmt.Errorf("create approval for process %s: %w", payload.ExecutionProcessID, err)
	}
	return nil
}
