// Package resilience guards outbound provider calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	}
	return "closed"
}

// Breaker opens after maxFailures consecutive counted failures and rejects
// calls until timeout has passed, then lets one probe through.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	counts      func(error) bool
	now         func() time.Time
}

type Option func(*Breaker)

// WithFailureFilter makes the breaker count only errors for which counts
// returns true. Other errors are returned to the caller without affecting state.
func WithFailureFilter(counts func(error) bool) Option {
	return func(b *Breaker) { b.counts = counts }
}

func NewBreaker(maxFailures int, timeout time.Duration, opts ...Option) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	b := &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		counts:      func(error) bool { return true },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.failures = 0
		b.state = stateClosed
	case b.counts(err):
		b.failures++
		if b.state == stateHalfOpen || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
	case b.state == stateHalfOpen:
		b.state = stateClosed
		b.failures = 0
	}
	return err
}

// State returns "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}
