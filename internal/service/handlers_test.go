package service

import (
	"context"
	"testing"
	"time"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/event"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
	"github.com/outerlook/vibe-kanban-sub002/internal/domain/task"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/broadcast"
	"github.com/outerlook/vibe-kanban-sub002/internal/port/messagequeue"
	"github.com/outerlook/vibe-kanban-sub002/internal/resilience"
)

func TestDependencyCascadeAnnouncesUnblocked(t *testing.T) {
	store := newMockStore()
	mq := newMockQueue()
	hub := &mockHub{}
	deps := NewDependencyService(store, nil, 5, time.Second)
	h := NewDependencyCascadeHandler(deps, mq, hub)
	ctx := context.Background()

	done := store.addTask("done", "p1", task.StatusDone)
	store.addTask("ready", "p1", task.StatusTodo)
	store.addEdge("ready", "done")

	ev := event.TaskStatusChanged{Task: *done, PreviousStatus: task.StatusInProgress}
	if !h.Handles(ev) {
		t.Fatalf("cascade handler should match done transitions")
	}
	if h.Handles(event.TaskStatusChanged{Task: task.Task{Status: task.StatusInProgress}}) {
		t.Fatalf("cascade handler matched a non-done transition")
	}

	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if hub.count(broadcast.EventTaskUnblocked) != 1 {
		t.Fatalf("task.unblocked not broadcast")
	}
	if mq.count(messagequeue.SubjectTaskUnblocked) != 1 {
		t.Fatalf("tasks.unblocked not published")
	}
}

func TestQueueDrainHandlerPromotesNext(t *testing.T) {
	store := newMockStore()
	rt := newMockRuntime(store)
	hub := &mockHub{}
	sched := NewScheduler(store, rt, resilience.NewBreaker(3, time.Second), hub, nil, 1)
	h := NewQueueDrainHandler(sched)
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

	ev := event.ExecutionCompleted{Process: *first}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n, _ := store.CountQueueEntries(ctx); n != 0 {
		t.Fatalf("queue not drained, depth %d", n)
	}
	if len(rt.startedIDs()) != 2 {
		t.Fatalf("runtime started %d processes, want 2", len(rt.startedIDs()))
	}
}

func TestFollowUpHandlerTriggers(t *testing.T) {
	var triggers []execution.Trigger
	h := NewFollowUpHandler(func(_ context.Context, tr execution.Trigger) error {
		triggers = append(triggers, tr)
		return nil
	})
	ctx := context.Background()

	proc := execution.Process{
		ID:          "proc-1",
		WorkspaceID: "ws-1",
		RunReason:   execution.ReasonCodingAgent,
		Status:      execution.StatusCompleted,
	}
	if err := h.Handle(ctx, event.ExecutionCompleted{Process: proc, TaskID: "t1"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(triggers) != 2 {
		t.Fatalf("got %d triggers, want 2", len(triggers))
	}
	if _, ok := triggers[0].(execution.FeedbackCollection); !ok {
		t.Fatalf("first trigger = %T, want FeedbackCollection", triggers[0])
	}
	if _, ok := triggers[1].(execution.ReviewAttention); !ok {
		t.Fatalf("second trigger = %T, want ReviewAttention", triggers[1])
	}

	// Failed runs skip feedback collection but still flag the task.
	triggers = nil
	proc.Status = execution.StatusFailed
	if err := h.Handle(ctx, event.ExecutionCompleted{Process: proc, TaskID: "t1"}); err != nil {
		t.Fatalf("handle failed run: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("got %d triggers for failed run, want 1", len(triggers))
	}
	if _, ok := triggers[0].(execution.ReviewAttention); !ok {
		t.Fatalf("trigger = %T, want ReviewAttention", triggers[0])
	}
}

func TestFollowUpHandlerIgnoresNonAgentRuns(t *testing.T) {
	h := NewFollowUpHandler(func(context.Context, execution.Trigger) error {
		t.Fatalf("trigger fired for a feedback run")
		return nil
	})

	ev := event.ExecutionCompleted{
		Process: execution.Process{RunReason: execution.ReasonFeedbackCollection, Status: execution.StatusCompleted},
	}
	if h.Handles(ev) {
		t.Fatalf("follow-up handler matched a feedback run")
	}
}

func TestTriggerRouterFeedbackSkipsBusyWorkspace(t *testing.T) {
	store := newMockStore()
	rt := newMockRuntime(store)
	sched := NewScheduler(store, rt, resilience.NewBreaker(3, time.Second), &mockHub{}, nil, 1)
	dispatcher := NewDispatcher(store, nil, 4)
	tasks := NewTaskService(store, dispatcher)
	route := NewTriggerRouter(sched, tasks)
	ctx := context.Background()

	store.addWorkspace("ws-1", "t1", "p1")
	store.addWorkspace("ws-2", "t2", "p1")
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-1", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := sched.StartOrEnqueue(ctx, "ws-2", ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// ws-2 already sits in the queue; the feedback request is dropped.
	err := route(ctx, execution.FeedbackCollection{WorkspaceID: "ws-2", TaskID: "t2"})
	if err != nil {
		t.Fatalf("feedback trigger: %v", err)
	}

	store.addTask("t1", "p1", task.StatusInProgress)
	if err := route(ctx, execution.ReviewAttention{TaskID: "t1"}); err != nil {
		t.Fatalf("review trigger: %v", err)
	}
	got, _ := store.GetTask(ctx, "t1")
	if got.Status != task.StatusInReview {
		t.Fatalf("task status = %s, want inreview", got.Status)
	}
}

func TestBroadcastHandlerEvents(t *testing.T) {
	hub := &mockHub{}
	h := NewBroadcastHandler(hub)
	ctx := context.Background()

	if err := h.Handle(ctx, statusEvent("t1", task.StatusDone)); err != nil {
		t.Fatalf("handle status: %v", err)
	}
	if err := h.Handle(ctx, event.ExecutionCompleted{
		Process: execution.Process{ID: "proc-1", WorkspaceID: "ws-1", Status: execution.StatusCompleted},
	}); err != nil {
		t.Fatalf("handle completion: %v", err)
	}

	if hub.count(broadcast.EventTaskStatus) != 1 {
		t.Fatalf("task.status not broadcast")
	}
	if hub.count(broadcast.EventExecutionCompleted) != 1 {
		t.Fatalf("execution.completed not broadcast")
	}
}
