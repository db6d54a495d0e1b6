package circuitbreaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

type State int32

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
		return "half_open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

// Option configures a Breaker independently of its result type.
type Option func(*settings)

type settings struct {
	halfOpenRequests int64
	onStateChange    func(from, to State)
	isFailure        func(error) bool
}

// WithHalfOpenRequests sets how many successes in half-open state close the circuit.
func WithHalfOpenRequests(n int) Option {
	return func(s *settings) { s.halfOpenRequests = int64(n) }
}

// WithStateChange registers a callback invoked after every state transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithFailurePredicate decides which errors count against the circuit.
// Errors for which it returns false are passed through without tripping it.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// Breaker is a generic, thread-safe circuit breaker.
type Breaker[T any] struct {
	maxFailures  int64
	resetTimeout time.Duration
	settings     settings

	state           atomic.Int32
	failures        atomic.Int64
	lastFailureTime atomic.Int64 // Unix nano
	successCount    atomic.Int64
}

// New creates a new generic Circuit Breaker.
func New[T any](maxFailures int, resetTimeout time.Duration, opts ...Option) *Breaker[T] {
	cb := &Breaker[T]{
		maxFailures:  int64(maxFailures),
		resetTimeout: resetTimeout,
		settings: settings{
			halfOpenRequests: 1,
			isFailure:        func(err error) bool { return err != nil },
		},
	}
	for _, opt := range opts {
		opt(&cb.settings)
	}
	cb.state.Store(int32(StateClosed))
	return cb
}

// State returns the current state.
func (cb *Breaker[T]) State() State {
	return State(cb.state.Load())
}

// Execute wraps a function call with the circuit breaker logic.
func (cb *Breaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if !cb.canExecute() {
		var zero T
		return zero, ErrOpen
	}

	result, err := fn(ctx)
	cb.recordResult(err)

	return result, err
}

func (cb *Breaker[T]) canExecute() bool {
	switch State(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		now := time.Now().UnixNano()
		lastFailure := cb.lastFailureTime.Load()
		if now > lastFailure+cb.resetTimeout.Nanoseconds() {
			if cb.transition(StateOpen, StateHalfOpen) {
				cb.successCount.Store(0)
			}
			return true
		}
		return false
	case StateHalfOpen:
		return cb.successCount.Load() < cb.settings.halfOpenRequests
	default:
		return false
	}
}

func (cb *Breaker[T]) recordResult(err error) {
	if err != nil && cb.settings.isFailure(err) {
		newFailures := cb.failures.Add(1)
		cb.lastFailureTime.Store(time.Now().UnixNano())

		currentState := State(cb.state.Load())
		if currentState == StateHalfOpen || (currentState == StateClosed && newFailures >= cb.maxFailures) {
			cb.transition(currentState, StateOpen)
		}
		return
	}

	if State(cb.state.Load()) == StateHalfOpen {
		if cb.successCount.Add(1) >= cb.settings.halfOpenRequests {
			if cb.transition(StateHalfOpen, StateClosed) {
				cb.failures.Store(0)
			}
		}
		return
	}
	cb.failures.Store(0)
}

func (cb *Breaker[T]) transition(from, to State) bool {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if cb.settings.onStateChange != nil {
		cb.settings.onStateChange(from, to)
	}
	return true
}
