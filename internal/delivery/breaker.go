package delivery

import (
	"sync"
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	breakerThreshold = 5
	breakerCooloff   = 5 * time.Minute
)

// breaker is the per-channel circuit breaker. Five consecutive failures trip
// it open for five minutes; the first admission after that runs as a
// half-open probe, and one success closes it again.
type breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	nextAttempt time.Time
}

func newBreaker() *breaker {
	return &breaker{state: BreakerClosed}
}

// Admit reports whether a delivery attempt may proceed now. An open breaker
// whose next-attempt time has arrived flips to half_open and admits exactly
// the probe.
func (b *breaker) Admit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Before(b.nextAttempt) {
			return false
		}
		b.state = BreakerHalfOpen
		return true
	case BreakerHalfOpen:
		// Probe already in flight.
		return false
	}
	return false
}

// RecordSuccess resets the breaker.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	b.state = BreakerClosed
	b.failures = 0
	b.nextAttempt = time.Time{}
	b.mu.Unlock()
}

// RecordFailure counts one failed attempt; crossing the threshold (or
// failing the half-open probe) opens the breaker.
func (b *breaker) RecordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= breakerThreshold {
		b.state = BreakerOpen
		b.nextAttempt = now.Add(breakerCooloff)
	}
}

func (b *breaker) Snapshot() (BreakerState, int, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures, b.nextAttempt
}
