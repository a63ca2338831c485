package concurrency

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed lets calls through
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects calls until the reset timeout has passed
	StateOpen

	// StateHalfOpen lets calls through to probe whether the upstream recovered
	StateHalfOpen
)

// halfOpenSuccesses closes a half-open circuit.
const halfOpenSuccesses = 3

// CircuitBreaker stops calls to an upstream after consecutive failures and
// probes it again once the reset timeout has passed.
type CircuitBreaker struct {
	mu                   sync.Mutex
	state                CircuitBreakerState
	consecutiveFailures  int64
	consecutiveSuccesses int64
	failureThreshold     int64
	resetTimeout         time.Duration
	openedAt             time.Time
	now                  func() time.Time
	logger               *zap.Logger
	name                 string
}

// NewCircuitBreaker creates a breaker opening after failureThreshold
// consecutive failures.
func NewCircuitBreaker(name string, failureThreshold int64, resetTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		logger:           logger,
	}
}

// Allow reports whether a call may proceed. An open circuit turns half-open
// once the reset timeout has passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return true
	}
	return false
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= halfOpenSuccesses {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current run of failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.consecutiveFailures = 0
}

// transitionTo must be called with mu held.
func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.consecutiveSuccesses = 0

	switch newState {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.logger.Warn("Circuit breaker opened",
			zap.String("breaker", cb.name),
			zap.Int64("consecutive_failures", cb.consecutiveFailures),
			zap.Duration("reset_timeout", cb.resetTimeout))
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.logger.Info("Circuit breaker closed", zap.String("breaker", cb.name))
	default:
		cb.logger.Info("Circuit breaker half-open",
			zap.String("breaker", cb.name),
			zap.Stringer("from", oldState))
	}
}

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}
