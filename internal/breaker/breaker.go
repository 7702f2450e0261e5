// Package breaker implements a per-provider circuit breaker for fault
// isolation
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a string representation of the circuit state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for State
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// OpenError is returned by Call when the circuit is open and the
// operation was not invoked
type OpenError struct {
	Name       string        `json:"name"`
	RetryAfter time.Duration `json:"retry_after"`
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry after %s", e.Name, e.RetryAfter)
}

// Status is a point-in-time snapshot of a breaker's state
type Status struct {
	State                State         `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	LastFailureAt        time.Time     `json:"last_failure_at"`
	LastStateChangeAt    time.Time     `json:"last_state_change_at"`
	TimeUntilRetry       time.Duration `json:"time_until_retry"`
}

// Breaker implements the circuit breaker pattern. One instance guards one
// provider and is shared by every concurrent call targeting it; all state
// reads and writes happen under the instance mutex. The mutex is never
// held across the wrapped operation.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailureAt        time.Time
	lastStateChangeAt    time.Time

	now func() time.Time
}

// New creates a new circuit breaker in the closed state
func New(name string, failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}

	b := &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		state:            StateClosed,
		now:              time.Now,
	}
	b.lastStateChangeAt = b.now()
	return b
}

// Call executes op under the breaker. When the circuit is open and the
// recovery timeout has not elapsed, op is never invoked and an *OpenError
// is returned. An attempt aborted by the caller's context does not count
// as a provider failure.
func (b *Breaker) Call(ctx context.Context, op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op()
	if err != nil {
		// Caller gave up; says nothing about provider health.
		if ctx.Err() != nil {
			return err
		}
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// admit decides whether a call may proceed, transitioning an expired open
// circuit to half-open
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailureAt)
	if elapsed < b.recoveryTimeout {
		return &OpenError{Name: b.name, RetryAfter: b.recoveryTimeout - elapsed}
	}

	b.transition(StateHalfOpen)
	b.consecutiveSuccesses = 0
	return nil
}

// recordSuccess applies a successful outcome to the state machine
func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.successThreshold {
			b.transition(StateClosed)
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

// recordFailure applies a failed outcome to the state machine
func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// A single failure while probing reopens the circuit.
		b.transition(StateOpen)
		b.consecutiveSuccesses = 0
	}
}

// transition moves to a new state and stamps the change time. Caller must
// hold the mutex.
func (b *Breaker) transition(state State) {
	if b.state == state {
		return
	}
	b.state = state
	b.lastStateChangeAt = b.now()
}

// Name returns the breaker's provider name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of the breaker. TimeUntilRetry is only
// meaningful while the circuit is open.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailureAt:        b.lastFailureAt,
		LastStateChangeAt:    b.lastStateChangeAt,
	}

	if b.state == StateOpen {
		remaining := b.recoveryTimeout - b.now().Sub(b.lastFailureAt)
		if remaining > 0 {
			status.TimeUntilRetry = remaining
		}
	}

	return status
}
