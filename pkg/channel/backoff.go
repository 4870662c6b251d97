package channel

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays from a run of consecutive failures.
// It performs no I/O and mutates nothing but the BackoffState it is given.
type Backoff struct {
	// Base is the first retry interval and the reset value after success.
	Base time.Duration
	// Max caps the computed interval.
	Max time.Duration
	// Factor multiplies the interval for each consecutive failure.
	Factor float64
	// Rand is the jitter source. Nil uses the process-wide source;
	// tests inject a seeded one.
	Rand *rand.Rand
}

// BackoffState is the accumulated failure run. The Manager owns the single
// instance covering both reconnect attempts and polling ticks.
type BackoffState struct {
	ConsecutiveFailures uint
	// CurrentInterval is the jitter cap for the current run. It never
	// decreases while failures accumulate.
	CurrentInterval time.Duration
	LastAttemptAt   time.Time
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   500 * time.Millisecond,
		Max:    60 * time.Second,
		Factor: 2.0,
	}
}

// Next records a failed attempt and returns the full-jitter delay before
// the next one: a uniform value in [0, min(base*factor^n, max)].
func (b Backoff) Next(now time.Time, state BackoffState) (time.Duration, BackoffState) {
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 60 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	cap := base
	for i := uint(0); i < state.ConsecutiveFailures; i++ {
		next := time.Duration(float64(cap) * factor)
		if next > max || next < cap {
			cap = max
			break
		}
		cap = next
	}

	state.ConsecutiveFailures++
	if cap > state.CurrentInterval {
		state.CurrentInterval = cap
	}
	state.LastAttemptAt = now

	return time.Duration(b.random() * float64(cap)), state
}

// Success resets the run after the first success following failures.
func (b Backoff) Success(state BackoffState) BackoffState {
	state.ConsecutiveFailures = 0
	state.CurrentInterval = b.Base
	return state
}

func (b Backoff) random() float64 {
	if b.Rand != nil {
		return b.Rand.Float64()
	}
	return rand.Float64()
}
