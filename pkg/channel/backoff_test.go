package channel

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDelayWithinBounds(t *testing.T) {
	b := Backoff{
		Base:   100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
		Rand:   rand.New(rand.NewSource(1)),
	}

	now := time.Unix(1700000000, 0)
	state := BackoffState{}
	expectedCap := b.Base
	for attempt := 0; attempt < 12; attempt++ {
		delay, next := b.Next(now, state)
		if delay < 0 || delay > expectedCap {
			t.Fatalf("attempt %d: delay %s outside [0, %s]", attempt, delay, expectedCap)
		}
		if next.ConsecutiveFailures != state.ConsecutiveFailures+1 {
			t.Fatalf("attempt %d: failures not advanced: %+v", attempt, next)
		}
		if next.CurrentInterval < state.CurrentInterval {
			t.Fatalf("attempt %d: interval decreased while failing: %s -> %s",
				attempt, state.CurrentInterval, next.CurrentInterval)
		}
		if !next.LastAttemptAt.Equal(now) {
			t.Fatalf("attempt %d: lastAttemptAt not recorded", attempt)
		}
		state = next

		expectedCap = time.Duration(float64(expectedCap) * b.Factor)
		if expectedCap > b.Max {
			expectedCap = b.Max
		}
	}
	if state.CurrentInterval != b.Max {
		t.Fatalf("long failure run should reach the cap, got %s", state.CurrentInterval)
	}
}

func TestBackoffSuccessResets(t *testing.T) {
	b := Backoff{Base: 250 * time.Millisecond, Max: time.Minute, Factor: 2.0,
		Rand: rand.New(rand.NewSource(7))}

	state := BackoffState{}
	now := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		_, state = b.Next(now, state)
	}
	if state.ConsecutiveFailures != 5 {
		t.Fatalf("failures mismatch: %d", state.ConsecutiveFailures)
	}

	state = b.Success(state)
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("success should reset failures, got %d", state.ConsecutiveFailures)
	}
	if state.CurrentInterval != b.Base {
		t.Fatalf("success should reset interval to base, got %s", state.CurrentInterval)
	}
}

func TestBackoffDefaultsRepairZeroConfig(t *testing.T) {
	var b Backoff
	delay, state := b.Next(time.Now(), BackoffState{})
	if state.ConsecutiveFailures != 1 {
		t.Fatalf("failures mismatch: %d", state.ConsecutiveFailures)
	}
	if delay < 0 || delay > time.Minute {
		t.Fatalf("zero-config delay out of range: %s", delay)
	}
}
