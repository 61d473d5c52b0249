package apperrors

import (
	"sync"
	"time"
)

// CircuitBreakerConfig controls when a breaker trips open and how long it
// stays open before probing again, generalized from the teacher's
// alexerrors.CircuitBreakerConfig.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// DefaultCircuitBreakerConfig mirrors the teacher's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker guards a single upstream dependency (one model provider, one
// MCP server). It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       breakerState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker constructs a closed breaker with cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: stateClosed}
}

// Allow reports whether a call should be attempted. When the breaker is open
// but the open-duration has elapsed, it transitions to half-open and allows
// exactly one probe call through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		return false // a probe is already in flight
	case stateOpen:
		if time.Since(b.openedAt) >= b.cfg.OpenDuration {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

// RecordFailure increments the failure count, tripping the breaker open once
// the threshold is reached (or immediately, if a half-open probe failed).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// IsOpen reports whether calls are currently blocked.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.cfg.OpenDuration
}
