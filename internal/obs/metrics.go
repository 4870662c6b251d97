package obs

import (
	"sync/atomic"
	"time"

	"main/pkg/channel"
)

const maxState = int(channel.StateClosed)

// Metrics collects lightweight counters and latency stats for a channel.
type Metrics struct {
	stateCounts  [maxState + 1]uint64
	published    uint64
	dedupDrops   uint64
	decodeErrors uint64
	pollTicks    uint64
	sendFailures uint64

	deliveryLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	StateCounts     map[channel.ConnectionState]uint64
	Published       uint64
	DedupDrops      uint64
	DecodeErrors    uint64
	PollTicks       uint64
	SendFailures    uint64
	DeliveryLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveState counts an entry into a connection state.
func (m *Metrics) ObserveState(state channel.ConnectionState) {
	if m == nil {
		return
	}
	idx := int(state)
	if idx >= 0 && idx < len(m.stateCounts) {
		atomic.AddUint64(&m.stateCounts[idx], 1)
	}
}

// ObserveEnvelope counts a delivered envelope and tracks delivery latency
// when the sender timestamp is present.
func (m *Metrics) ObserveEnvelope(env channel.Envelope) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.published, 1)
	if env.Timestamp > 0 {
		sent := time.UnixMilli(int64(env.Timestamp))
		if delta := time.Since(sent); delta >= 0 {
			m.deliveryLatency.Observe(delta)
		}
	}
}

// IncDedupDrop records a duplicate envelope discard.
func (m *Metrics) IncDedupDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dedupDrops, 1)
}

// IncDecodeError records a malformed inbound frame.
func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.decodeErrors, 1)
}

// IncPollTick records a completed polling round trip.
func (m *Metrics) IncPollTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.pollTicks, 1)
}

// IncSendFailure records a failed outbound write.
func (m *Metrics) IncSendFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sendFailures, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	stateCounts := make(map[channel.ConnectionState]uint64)
	for i := range m.stateCounts {
		if v := atomic.LoadUint64(&m.stateCounts[i]); v > 0 {
			stateCounts[channel.ConnectionState(i)] = v
		}
	}
	return Snapshot{
		StateCounts:     stateCounts,
		Published:       atomic.LoadUint64(&m.published),
		DedupDrops:      atomic.LoadUint64(&m.dedupDrops),
		DecodeErrors:    atomic.LoadUint64(&m.decodeErrors),
		PollTicks:       atomic.LoadUint64(&m.pollTicks),
		SendFailures:    atomic.LoadUint64(&m.sendFailures),
		DeliveryLatency: m.deliveryLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
