package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the circuit rejects requests
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Circuit is open, requests fail immediately
	StateHalfOpen                     // Testing if service has recovered
)

func (s CircuitState) String() string {
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

// CircuitBreaker guards an upstream dependency. After maxFailures consecutive
// failures it rejects calls until resetTimeout elapses, then lets a limited
// number of probe calls through.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, state CircuitState)

	mu                sync.Mutex
	state             CircuitState
	failureCount      int
	halfOpenCount     int
	successCount      int
	lastFailTime      time.Time
	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        StateClosed,
	}
}

// OnStateChange registers a callback invoked (outside the lock) on every
// state transition
func (cb *CircuitBreaker) OnStateChange(fn func(name string, state CircuitState)) {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
}

// Name returns the guarded dependency name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn with circuit breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.RecordResult(err == nil)
	return err
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	allowed, changed := cb.allowLocked(time.Now())
	notify := cb.transitionHook(changed)
	cb.mu.Unlock()
	notify()
	return allowed
}

func (cb *CircuitBreaker) allowLocked(now time.Time) (allowed, changed bool) {
	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if now.Sub(cb.lastFailTime) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCount = 1
		cb.successCount = 0
		return true, true
	case StateHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true, false
		}
	}
	return false, false
}

// RecordResult records the outcome of a request made after Allow
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	cb.requestCount++
	before := cb.state
	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
	notify := cb.transitionHook(before != cb.state)
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failureCount = 0
			cb.halfOpenCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCountTotal++
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		// Any failure while probing reopens the circuit
		cb.state = StateOpen
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
}

// transitionHook must be called with mu held; the returned func runs the
// callback after unlock
func (cb *CircuitBreaker) transitionHook(changed bool) func() {
	if !changed || cb.onChange == nil {
		return func() {}
	}
	fn, name, state := cb.onChange, cb.name, cb.state
	return func() { fn(name, state) }
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal
	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	before := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenCount = 0
	cb.successCount = 0
	cb.requestCount = 0
	cb.failureCountTotal = 0
	notify := cb.transitionHook(before != StateClosed)
	cb.mu.Unlock()
	notify()
}
