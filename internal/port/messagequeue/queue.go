// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for the agent worker protocol and event fan-out.
const (
	SubjectExecutionStart     = "executions.start"     // core → worker: start an execution process
	SubjectExecutionCancel    = "executions.cancel"    // core → worker: kill a running process
	SubjectExecutionCompleted = "executions.completed" // worker → core: process reached a terminal status
	SubjectApprovalRequested  = "approvals.requested"  // worker → core: agent needs a decision
	SubjectApprovalResolved   = "approvals.resolved"   // core → worker: decision delivered to the peer
	SubjectTaskUnblocked      = "tasks.unblocked"      // core → interested consumers: dependency cascade output
)
