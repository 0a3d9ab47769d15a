package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
	DefaultHalfOpenMaxCalls = 3
)

// CircuitOpenError is returned when a call is rejected because the service's
// circuit is open and no fallback was supplied. Retryable after RetryAfter.
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for service %q, retry after %s", e.Service, e.RetryAfter)
}

type breakerEntry struct {
	state           BreakerState
	failures        int
	openedAt        time.Time
	halfOpenCalls   int
	halfOpenSuccess int
}

// CircuitBreaker guards calls to unreliable services with a per-service
// closed/open/half_open state machine.
type CircuitBreaker struct {
	Threshold        int
	OpenTimeout      time.Duration
	HalfOpenMaxCalls int

	mu       sync.Mutex
	services map[string]*breakerEntry
	now      func() time.Time
	logger   *zap.Logger
}

func NewCircuitBreaker(logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		Threshold:        DefaultFailureThreshold,
		OpenTimeout:      DefaultOpenTimeout,
		HalfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		services:         make(map[string]*breakerEntry),
		now:              time.Now,
		logger:           logger,
	}
}

func (cb *CircuitBreaker) entry(service string) *breakerEntry {
	e, ok := cb.services[service]
	if !ok {
		e = &breakerEntry{state: StateClosed}
		cb.services[service] = e
	}
	return e
}

// Allow reports whether a call to service may proceed, performing the
// open -> half_open transition when the open timeout has elapsed.
func (cb *CircuitBreaker) Allow(service string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e := cb.entry(service)
	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(e.openedAt) >= cb.OpenTimeout {
			e.state = StateHalfOpen
			e.halfOpenCalls = 1
			e.halfOpenSuccess = 0
			cb.logger.Info("circuit half open", zap.String("service", service))
			return true
		}
		return false
	case StateHalfOpen:
		if e.halfOpenCalls < cb.HalfOpenMaxCalls {
			e.halfOpenCalls++
			return true
		}
		return false
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e := cb.entry(service)
	switch e.state {
	case StateClosed:
		e.failures = 0
	case StateHalfOpen:
		e.halfOpenSuccess++
		if e.halfOpenSuccess >= cb.HalfOpenMaxCalls {
			e.state = StateClosed
			e.failures = 0
			cb.logger.Info("circuit closed", zap.String("service", service))
		}
	}
}

func (cb *CircuitBreaker) RecordFailure(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e := cb.entry(service)
	switch e.state {
	case StateClosed:
		e.failures++
		if e.failures >= cb.Threshold {
			e.state = StateOpen
			e.openedAt = cb.now()
			cb.logger.Warn("circuit opened",
				zap.String("service", service),
				zap.Int("failures", e.failures))
		}
	case StateHalfOpen:
		e.state = StateOpen
		e.openedAt = cb.now()
		cb.logger.Warn("circuit reopened from half open", zap.String("service", service))
	}
}

// State returns the current state for service without side effects.
func (cb *CircuitBreaker) State(service string) BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.entry(service).state
}

// States snapshots every tracked service's state.
func (cb *CircuitBreaker) States() map[string]BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	out := make(map[string]BreakerState, len(cb.services))
	for svc, e := range cb.services {
		out[svc] = e.state
	}
	return out
}

// Reset closes the circuit for service and clears counters.
func (cb *CircuitBreaker) Reset(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.services[service] = &breakerEntry{state: StateClosed}
}

// ForceOpen trips the circuit, rejecting calls until the timeout elapses.
func (cb *CircuitBreaker) ForceOpen(service string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	e := cb.entry(service)
	e.state = StateOpen
	e.openedAt = cb.now()
}

func (cb *CircuitBreaker) retryAfter(service string) time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	e := cb.entry(service)
	if e.state != StateOpen {
		return 0
	}
	remaining := cb.OpenTimeout - cb.now().Sub(e.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ExecuteBreaker wraps fn with the circuit for service. When the circuit
// rejects the call, fallback is used if non-nil, otherwise a CircuitOpenError
// is returned. fn errors are propagated after recording the failure. No lock
// is held while fn runs.
func ExecuteBreaker[T any](ctx context.Context, cb *CircuitBreaker, service string, fn func(ctx context.Context) (T, error), fallback func() (T, error)) (T, error) {
	var zero T
	if !cb.Allow(service) {
		if fallback != nil {
			return fallback()
		}
		return zero, &CircuitOpenError{Service: service, RetryAfter: cb.retryAfter(service)}
	}

	out, err := fn(ctx)
	if err != nil {
		cb.RecordFailure(service)
		return zero, err
	}
	cb.RecordSuccess(service)
	return out, nil
}
