package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/pkg/channel"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ObserveState(channel.StateConnecting)
	m.ObserveState(channel.StateConnected)
	m.ObserveState(channel.StateReconnecting)
	m.ObserveState(channel.StateReconnecting)
	m.IncDedupDrop()
	m.IncDecodeError()
	m.IncPollTick()
	m.IncSendFailure()

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.StateCounts[channel.StateConnecting])
	assert.Equal(t, uint64(1), snap.StateCounts[channel.StateConnected])
	assert.Equal(t, uint64(2), snap.StateCounts[channel.StateReconnecting])
	assert.Equal(t, uint64(1), snap.DedupDrops)
	assert.Equal(t, uint64(1), snap.DecodeErrors)
	assert.Equal(t, uint64(1), snap.PollTicks)
	assert.Equal(t, uint64(1), snap.SendFailures)
}

func TestMetricsDeliveryLatency(t *testing.T) {
	m := NewMetrics()

	sent := time.Now().Add(-50 * time.Millisecond)
	m.ObserveEnvelope(channel.Envelope{
		Type:      "chat.message",
		EventID:   "e1",
		Timestamp: uint64(sent.UnixMilli()),
	})
	m.ObserveEnvelope(channel.Envelope{Type: "chat.message", EventID: "e2"})

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Published)
	assert.Equal(t, uint64(1), snap.DeliveryLatency.Count)
	assert.GreaterOrEqual(t, snap.DeliveryLatency.Min, 50*time.Millisecond)
}

func TestLatencyStatsMinMaxAvg(t *testing.T) {
	var l LatencyStats
	l.Observe(10 * time.Millisecond)
	l.Observe(30 * time.Millisecond)
	l.Observe(-time.Millisecond)

	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.Count)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
	assert.Equal(t, 20*time.Millisecond, snap.Avg)
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveState(channel.StateConnected)
	m.IncDedupDrop()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
