// Package runtime defines the port to the agent execution runtime. The
// core never runs agent processes itself; it hands them to a runtime
// and observes completions.
package runtime

import (
	"context"

	"github.com/outerlook/vibe-kanban-sub002/internal/domain/execution"
)

// Runtime starts and stops execution processes on agent workers.
type Runtime interface {
	// RunningCount reports the number of processes currently executing.
	RunningCount(ctx context.Context) (int, error)

	// StartExecution dispatches a process to a worker. The process
	// record must already exist.
	StartExecution(ctx context.Context, proc *execution.Process, entry *execution.QueueEntry) error

	// StopExecution requests a running process be killed.
	StopExecution(ctx context.Context, processID string) error
}
