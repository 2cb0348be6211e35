// Package resilience provides reliability patterns for calls to the
// remote job API.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the call while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Circuit states. Closed passes calls through; open rejects them until
// the cool-off elapses; half-open admits one probe call whose result
// decides where the circuit settles.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half_open"
)

// Breaker cuts traffic to a failing remote after maxFailures
// consecutive errors, then probes it again after a cool-off period.
// Submitting jobs to a CALDERA that is down would otherwise burn every
// step's retry budget on doomed attempts.
type Breaker struct {
	maxFailures int
	coolOff     time.Duration

	mu       sync.Mutex
	state    string
	failures int
	openedAt time.Time
	now      func() time.Time // for testing
}

// NewBreaker creates a closed Breaker that opens after maxFailures
// consecutive failures and probes again after coolOff.
func NewBreaker(maxFailures int, coolOff time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		coolOff:     coolOff,
		state:       stateClosed,
		now:         time.Now,
	}
}

// State reports the current circuit state for health endpoints and logs.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the circuit is open, and feeds the result back
// into the circuit state.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// admit decides whether a call may proceed, moving open to half-open
// once the cool-off has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Sub(b.openedAt) < b.coolOff {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
	}
	return nil
}

// record folds one call result into the circuit. Success resets the
// circuit to closed. A failure trips it when the threshold is reached,
// and immediately when the call was a half-open probe.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.state = stateClosed
		return
	}

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}
