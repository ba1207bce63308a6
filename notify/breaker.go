package notify

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while a sink is being skipped after repeated failures
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a Breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker stops calling a sink after maxFailures consecutive failures and
// lets a single probe through once cooldown has elapsed.
type Breaker struct {
	maxFailures uint32
	cooldown    time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker creates a closed breaker. Zero arguments default to 5 failures
// and a 30s cooldown.
func NewBreaker(maxFailures uint32, cooldown time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, state: BreakerClosed, now: time.Now}
}

// Allow reports whether a call may proceed
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record feeds the outcome of an allowed call back into the breaker
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
