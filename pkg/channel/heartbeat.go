package channel

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// heartbeat detects a silently-dead primary transport that has not
// technically closed. While armed it sends a reserved-type probe every
// interval; a matching reply resets the miss counter, and missThreshold
// consecutive unanswered probes fire the expired callback once.
type heartbeat struct {
	clk     clock.Clock
	probe   func() error
	expired func()

	mu        sync.Mutex
	timer     *clock.Timer
	armed     bool
	misses    int
	interval  time.Duration
	threshold int
}

func newHeartbeat(clk clock.Clock, probe func() error, expired func()) *heartbeat {
	return &heartbeat{
		clk:     clk,
		probe:   probe,
		expired: expired,
	}
}

// Arm starts periodic probing. Re-arming resets the miss counter.
func (h *heartbeat) Arm(interval time.Duration, missThreshold int) {
	if h == nil || interval <= 0 {
		return
	}
	if missThreshold <= 0 {
		missThreshold = defaultMissThreshold
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimerLocked()
	h.armed = true
	h.misses = 0
	h.interval = interval
	h.threshold = missThreshold
	h.timer = h.clk.AfterFunc(interval, h.tick)
}

// Disarm stops probing. Called whenever the manager leaves Connected.
func (h *heartbeat) Disarm() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.armed = false
	h.misses = 0
	h.stopTimerLocked()
	h.mu.Unlock()
}

// Pong records a liveness reply, resetting the miss counter.
func (h *heartbeat) Pong() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.misses = 0
	h.mu.Unlock()
}

func (h *heartbeat) tick() {
	h.mu.Lock()
	if !h.armed {
		h.mu.Unlock()
		return
	}
	if h.misses >= h.threshold {
		h.armed = false
		h.stopTimerLocked()
		expired := h.expired
		h.mu.Unlock()
		if expired != nil {
			expired()
		}
		return
	}
	h.misses++
	probe := h.probe
	h.timer = h.clk.AfterFunc(h.interval, h.tick)
	h.mu.Unlock()

	if probe != nil {
		_ = probe()
	}
}

func (h *heartbeat) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
