// Package broadcast defines the realtime client broadcast port.
package broadcast

import "context"

// EventType identifies a realtime event pushed to connected clients.
type EventType string

const (
	EventTaskStatus         EventType = "task.status"
	EventTaskUnblocked      EventType = "task.unblocked"
	EventQueueChanged       EventType = "queue.changed"
	EventApprovalRequested  EventType = "approval.requested"
	EventApprovalResolved   EventType = "approval.resolved"
	EventExecutionCompleted EventType = "execution.completed"
)

// Broadcaster fans an event out to every connected client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType EventType, payload any)
	ConnectionCount() int
}
