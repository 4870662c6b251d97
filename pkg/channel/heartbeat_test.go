package channel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestHeartbeatDeclaresLinkDeadAfterMisses(t *testing.T) {
	clk := clock.NewMock()

	var probes, dead atomic.Int32
	h := newHeartbeat(clk,
		func() error { probes.Add(1); return nil },
		func() { dead.Add(1) },
	)
	h.Arm(time.Second, 2)

	// Two unanswered probes, then the third tick declares the link dead.
	clk.Add(time.Second)
	clk.Add(time.Second)
	if got := probes.Load(); got != 2 {
		t.Fatalf("probe count mismatch: %d", got)
	}
	if dead.Load() != 0 {
		t.Fatalf("link declared dead too early")
	}

	clk.Add(time.Second)
	if dead.Load() != 1 {
		t.Fatalf("link should be declared dead after threshold misses")
	}

	// Once expired, probing stops.
	clk.Add(10 * time.Second)
	if got := probes.Load(); got != 2 {
		t.Fatalf("probing should stop after expiry, got %d probes", got)
	}
}

func TestHeartbeatPongResetsMisses(t *testing.T) {
	clk := clock.NewMock()

	var dead atomic.Int32
	h := newHeartbeat(clk,
		func() error { return nil },
		func() { dead.Add(1) },
	)
	h.Arm(time.Second, 2)

	for i := 0; i < 10; i++ {
		clk.Add(time.Second)
		h.Pong()
	}
	if dead.Load() != 0 {
		t.Fatalf("answered probes must not expire the link")
	}
}

func TestHeartbeatDisarmStopsProbing(t *testing.T) {
	clk := clock.NewMock()

	var probes, dead atomic.Int32
	h := newHeartbeat(clk,
		func() error { probes.Add(1); return nil },
		func() { dead.Add(1) },
	)
	h.Arm(time.Second, 2)
	clk.Add(time.Second)
	h.Disarm()

	clk.Add(time.Minute)
	if got := probes.Load(); got != 1 {
		t.Fatalf("probing should stop after disarm, got %d", got)
	}
	if dead.Load() != 0 {
		t.Fatalf("disarmed monitor must not expire")
	}
}
