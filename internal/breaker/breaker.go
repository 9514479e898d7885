// Package breaker provides per-provider failure isolation: after a run of
// consecutive failures the circuit opens and calls are rejected until a reset
// timeout elapses, when a single trial call checks for recovery.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a trial.
	ResetTimeout time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to err != nil. A 404 or validation error should not trip it.
	IsFailure func(error) bool
	// OnStateChange is an optional callback invoked on every transition.
	OnStateChange func(from, to State)
}

// Breaker implements the circuit breaker pattern for one provider.
type Breaker struct {
	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool

	threshold     int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(from, to State)

	now func() time.Time
}

// Stats is a point-in-time snapshot of breaker state.
type Stats struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
}

// New creates a circuit breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		state:         StateClosed,
		threshold:     cfg.FailureThreshold,
		resetTimeout:  cfg.ResetTimeout,
		isFailure:     isFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// SetClock overrides the breaker clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
}

// Execute runs fn under breaker protection. While open it returns
// ErrCircuitOpen without invoking fn; in half-open exactly one trial call is
// allowed through.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.beforeCall()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.afterCall(err, trial)
	return err
}

// beforeCall reports whether this call owns the half-open trial slot. Only
// the owning call's completion may release it.
func (b *Breaker) beforeCall() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed < b.resetTimeout {
			return false, fmt.Errorf("%w: retry after %v", ErrCircuitOpen, b.resetTimeout-elapsed)
		}
		b.transitionTo(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.trialInFlight {
			return false, fmt.Errorf("%w: trial call in flight", ErrCircuitOpen)
		}
		b.trialInFlight = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) afterCall(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	} else if b.state == StateHalfOpen {
		// A call that entered before the circuit opened says nothing about
		// recovery; the in-flight trial owns the half-open verdict.
		return
	}
	if b.isFailure(err) {
		b.recordFailure()
	} else {
		b.recordSuccess()
	}
}

func (b *Breaker) recordFailure() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.threshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// A failed trial reopens the circuit immediately.
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	if newState == StateClosed {
		b.failureCount = 0
	}
	if newState != StateHalfOpen {
		b.trialInFlight = false
	}
	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}
}

// IsOpen reports whether calls would currently be rejected outright.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return false
	}
	return b.now().Sub(b.lastFailureTime) < b.resetTimeout
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns current statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailureTime,
	}
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}
