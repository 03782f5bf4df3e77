// Package resilience shields runtime dispatch from a flapping broker
// or worker fleet.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDispatchSuspended is returned while the breaker refuses calls.
var ErrDispatchSuspended = errors.New("dispatch suspended after repeated start failures")

// State is the breaker's current mode, exposed on the health endpoint.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker counts consecutive dispatch failures. At the threshold it
// stops dispatching for a cooldown period, then lets a single probe
// through; the probe's outcome decides between closing again and
// another cooldown.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	clock     func() time.Time // for testing

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a Breaker that suspends dispatch after threshold
// consecutive failures and re-probes after cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
		state:     StateClosed,
	}
}

// Do runs op unless dispatch is suspended.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op(ctx)
	b.observe(err)
	return err
}

// State reports the breaker's current mode.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock().Sub(b.openedAt) < b.cooldown {
			return ErrDispatchSuspended
		}
		b.state = StateHalfOpen
		b.probing = true
		return nil
	case StateHalfOpen:
		// One probe at a time; everyone else keeps waiting.
		if b.probing {
			return ErrDispatchSuspended
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.threshold {
			if b.state != StateOpen {
				slog.Warn("runtime dispatch suspended",
					"consecutive_failures", b.failures,
					"cooldown", b.cooldown,
				)
			}
			b.state = StateOpen
			b.openedAt = b.clock()
		}
		return
	}

	if b.state != StateClosed {
		slog.Info("runtime dispatch restored")
	}
	b.failures = 0
	b.state = StateClosed
}
