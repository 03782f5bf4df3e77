package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/resilience"
)

func newSchedulerFixture(t *testing.T, maxConcurrent int) (*Scheduler, *mockStore, *mockRuntime, *mockHub) {
	t.Helper()
	store := newMockStore()
	rt := newMockRuntime(store)
	hub := &mockHub{}
	breaker := resilience.NewBreaker(3, time.Second)
	return NewScheduler(store, rt, breaker, hub, nil, maxConcurrent), store, rt, hub
}

func TestStartOrEnqueueStartsBelowCap(t *testing.T) {
	sched, store, rt, _ := newSchedulerFixture(t, 2)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")

	proc, entry, err := sched.StartOrEnqueue(ctx, "ws-1", "profile-default")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if proc == nil || entry != nil {
		t.Fatalf("expected immediate start, got proc=%v entry=%v", proc, entry)
	}
	if proc.Status != execution.StatusRunning {
		t.Fatalf("process status = %s, want running", proc.Status)
	}
	if proc.RunReason != execution.ReasonCodingAgent {
		t.Fatalf("run reason = %s, want codingagent", proc.RunReason)
	}
	if len(rt.startedIDs()) != 1 {
		t.Fatalf("runtime started %d processes, want 1", len(rt.startedIDs()))
	}
}

func TestStartOrEnqueueQueuesAtCap(t *testing.T) {
	sched, store, _, hub := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")

	if _, _, err := sched.StartOrEnqueue(ctx, "ws-1", ""); err != nil {
		t.Fatalf("first start: %v", err)
	}

	proc, entry, err := sched.StartOrEnqueue(ctx, "ws-2", "")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if proc != nil || entry == nil {
		t.Fatalf("expected enqueue at capacity, got proc=%v entry=%v", proc, entry)
	}
	if n, _ := store.CountQueueEntries(ctx); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}
	if hub.count(broadcast.EventQueueChanged) == 0 {
		t.Fatalf("queue.changed not broadcast")
	}
}

func TestStartOrEnqueueRejectsDuplicateWorkspace(t *testing.T) {
	sched, store, _, _ := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")

	// Fill the slot, then queue ws-2.
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-2", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	_, _, err := sched.StartOrEnqueue(ctx, "ws-2", "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for queued workspace, got %v", err)
	}
}

func TestStartOrEnqueueUnknownWorkspace(t *testing.T) {
	sched, _, _, _ := newSchedulerFixture(t, 1)

	_, _, err := sched.StartOrEnqueue(context.Background(), "nope", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFollowUpRequiresSessionAndAction(t *testing.T) {
	sched, store, _, _ := newSchedulerFixture(t, 4)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")

	_, _, err := sched.FollowUp(ctx, "ws-1", "sess-1", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing action, got %v", err)
	}

	_, _, err = sched.FollowUp(ctx, "ws-1", "", &execution.ExecutorAction{Type: "prompt", Prompt: "continue"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing session, got %v", err)
	}

	proc, _, err := sched.FollowUp(ctx, "ws-1", "sess-1", &execution.ExecutorAction{Type: "prompt", Prompt: "continue"})
	if err != nil {
		t.Fatalf("follow-up: %v", err)
	}
	if proc == nil || proc.SessionID != "sess-1" {
		t.Fatalf("follow-up process missing session, got %+v", proc)
	}
}

func TestStartNextQueuedIsFIFO(t *testing.T) {
	sched, store, rt, _ := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")
	store.addWorkspace("ws-3", "t3", "p1")

	first, _, err := sched.StartOrEnqueue(ctx, "ws-1", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-2", ""); err != nil {
		t.Fatalf("enqueue ws-2: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-3", ""); err != nil {
		t.Fatalf("enqueue ws-3: %v", err)
	}

	// While ws-1 is running, there is no capacity.
	if proc, err := sched.StartNextQueued(ctx); err != nil || proc != nil {
		t.Fatalf("expected no-op at capacity, got proc=%v err=%v", proc, err)
	}

	if err := store.CompleteExecution(ctx, first.ID, execution.StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	proc, err := sched.StartNextQueued(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if proc == nil || proc.WorkspaceID != "ws-2" {
		t.Fatalf("expected ws-2 to start next, got %+v", proc)
	}

	if err := store.CompleteExecution(ctx, proc.ID, execution.StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	proc, err = sched.StartNextQueued(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if proc == nil || proc.WorkspaceID != "ws-3" {
		t.Fatalf("expected ws-3 to start last, got %+v", proc)
	}

	if len(rt.startedIDs()) != 3 {
		t.Fatalf("runtime started %d processes, want 3", len(rt.startedIDs()))
	}

	// Queue drained.
	if proc, err := sched.StartNextQueued(ctx); err != nil || proc != nil {
		t.Fatalf("expected empty-queue no-op, got proc=%v err=%v", proc, err)
	}
}

func TestStartNextQueuedReenqueuesOnStartFailure(t *testing.T) {
	sched, store, rt, _ := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")

	first, _, err := sched.StartOrEnqueue(ctx, "ws-1", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-2", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.CompleteExecution(ctx, first.ID, execution.StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rt.startErr = errors.New("worker unreachable")
	if _, err := sched.StartNextQueued(ctx); err == nil {
		t.Fatalf("expected start failure")
	}

	// The entry went back on the queue for the next drain attempt.
	if n, _ := store.CountQueueEntries(ctx); n != 1 {
		t.Fatalf("queue depth after failed start = %d, want 1", n)
	}

	rt.startErr = nil
	proc, err := sched.StartNextQueued(ctx)
	if err != nil {
		t.Fatalf("retry drain: %v", err)
	}
	if proc == nil || proc.WorkspaceID != "ws-2" {
		t.Fatalf("expected ws-2 on retry, got %+v", proc)
	}
}

func TestQueuedFeedbackKeepsRunReason(t *testing.T) {
	sched, store, _, _ := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")

	first, _, err := sched.StartOrEnqueue(ctx, "ws-1", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	proc, entry, err := sched.StartFeedback(ctx, "ws-2")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if proc != nil || entry == nil {
		t.Fatalf("expected feedback run to queue at capacity, got proc=%v entry=%v", proc, entry)
	}
	if entry.RunReason != execution.ReasonFeedbackCollection {
		t.Fatalf("queued run reason = %s, want feedbackcollection", entry.RunReason)
	}

	if err := store.CompleteExecution(ctx, first.ID, execution.StatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	proc, err = sched.StartNextQueued(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if proc == nil || proc.RunReason != execution.ReasonFeedbackCollection {
		t.Fatalf("drained process run reason = %+v, want feedbackcollection", proc)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	sched, store, _, _ := newSchedulerFixture(t, 1)
	ctx := context.Background()
	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")

	if _, _, err := sched.StartOrEnqueue(ctx, "ws-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-2", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := sched.Cancel(ctx, "ws-2"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n, _ := store.CountQueueEntries(ctx); n != 0 {
		t.Fatalf("queue depth = %d, want 0", n)
	}

	// Second cancel finds nothing and still succeeds.
	if err := sched.Cancel(ctx, "ws-2"); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestZeroCapMeansUnlimited(t *testing.T) {
	sched, store, _, _ := newSchedulerFixture(t, 0)
	ctx := context.Background()

	for _, id := range []string{"ws-1", "ws-2", "ws-3", "ws-4"} {
		store.addWorkspace(id, "t-"+id, "p1")
		proc, entry, err := sched.StartOrEnqueue(ctx, id, "")
		if err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
		if proc == nil || entry != nil {
			t.Fatalf("workspace %s was queued under unlimited cap", id)
		}
	}
}
