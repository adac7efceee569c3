// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type phase int

const (
	phaseClosed phase = iota
	phaseOpen
	phaseHalfOpen
)

// Breaker wraps an external call (notification webhook, provider API) in a
// circuit: consecutive failures open it, calls are rejected until a cooldown
// elapses, then a single probe decides whether it closes again.
type Breaker struct {
	mu       sync.Mutex
	phase    phase
	failures int
	limit    int
	cooldown time.Duration
	openedAt time.Time
	now      func() time.Time // swappable for testing
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and starts probing again after timeout.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		limit:    maxFailures,
		cooldown: timeout,
		now:      time.Now,
	}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		// A failed half-open probe re-opens immediately.
		if b.phase == phaseHalfOpen || b.failures >= b.limit {
			b.phase = phaseOpen
			b.openedAt = b.now()
		}
		return err
	}

	b.failures = 0
	b.phase = phaseClosed
	return nil
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case phaseClosed, phaseHalfOpen:
		return true
	case phaseOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.phase = phaseHalfOpen
			return true
		}
		return false
	}
	return false
}
