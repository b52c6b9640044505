package router

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Allow while the breaker holds calls
// off the failing dependency.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is one of the three classic breaker states.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig tunes the failure window and recovery schedule.
type BreakerConfig struct {
	// FailMax consecutive failures trip the breaker.
	FailMax int
	// Recovery is how long the breaker stays open before probing.
	Recovery time.Duration
	// RecoveryCap bounds the doubled recovery after consecutive opens.
	RecoveryCap time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailMax:     3,
		Recovery:    5 * time.Second,
		RecoveryCap: 120 * time.Second,
	}
}

// Breaker guards calls to the remote detector. Each consecutive trip doubles
// the recovery window up to the cap; a clean close resets it to the base.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	recovery time.Duration
	now      func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailMax <= 0 {
		cfg.FailMax = 3
	}
	if cfg.Recovery <= 0 {
		cfg.Recovery = 5 * time.Second
	}
	if cfg.RecoveryCap <= 0 {
		cfg.RecoveryCap = 120 * time.Second
	}
	return &Breaker{
		cfg:      cfg,
		state:    StateClosed,
		recovery: cfg.Recovery,
		now:      time.Now,
	}
}

// Allow reports whether the next call may go through. While open it returns
// ErrCircuitOpen until the recovery window elapses, at which point exactly one
// caller transitions to half-open and is let through as the probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.recovery {
			b.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// Success records a clean call. Closing from half-open resets the recovery
// window to the base.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.recovery = b.cfg.Recovery
	}
	b.state = StateClosed
	b.failures = 0
}

// Failure records a failed call. A failed half-open probe re-opens
// immediately and doubles the recovery window; in closed state FailMax
// consecutive failures trip the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.reopen()
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailMax {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateOpen:
		// Late failure from an in-flight call; the clock keeps running.
	}
}

func (b *Breaker) reopen() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.recovery *= 2
	if b.recovery > b.cfg.RecoveryCap {
		b.recovery = b.cfg.RecoveryCap
	}
}

// State returns the current breaker state, resolving an expired open window
// to half-open the same way Allow would.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.recovery {
		return StateHalfOpen
	}
	return b.state
}

// HalfOpen reports whether the next Allow would be a probe.
func (b *Breaker) HalfOpen() bool { return b.State() == StateHalfOpen }
