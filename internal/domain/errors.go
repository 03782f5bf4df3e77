// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness violation or a concurrent
// modification conflict.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates the request failed a domain validation rule.
var ErrValidation = errors.New("validation failed")

// ErrCycleDetected indicates a dependency edge was rejected because it
// would close a cycle in the task dependency graph.
var ErrCycleDetected = errors.New("dependency cycle detected")

// ErrTimeout indicates an operation expired before completing.
var ErrTimeout = errors.New("timed out")

// ErrProtocol indicates an internal coordination invariant was broken,
// e.g. a resolved approval still reading as pending.
var ErrProtocol = errors.New("protocol error")
