package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/channel"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]Record
}

func (s *memStore) SaveBatch(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *memStore) saved() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Record
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

type blockingStore struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) SaveBatch(context.Context, []Record) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func archiveEnvelope(eventID string) channel.Envelope {
	return channel.Envelope{
		Type:      "chat.message",
		Payload:   []byte(`{"body":"hi"}`),
		SessionID: "s-1",
		Timestamp: 1700000000000,
		EventID:   eventID,
	}
}

func TestArchiverFlushesOnBatchSize(t *testing.T) {
	st := &memStore{}
	a := NewArchiver(Config{BatchSize: 2, FlushInterval: time.Hour}, st)
	require.NoError(t, a.Start(context.Background()))
	defer a.Close()

	require.NoError(t, a.TryRecord(archiveEnvelope("e1")))
	require.NoError(t, a.TryRecord(archiveEnvelope("e2")))

	require.Eventually(t, func() bool {
		return len(st.saved()) == 2
	}, time.Second, 5*time.Millisecond)

	recs := st.saved()
	assert.Equal(t, "e1", recs[0].EventID)
	assert.Equal(t, "chat.message", recs[0].Type)
	assert.Equal(t, []byte(`{"body":"hi"}`), recs[0].Payload)
	assert.Equal(t, int64(1700000000000), recs[0].SentAt)
}

func TestArchiverFlushesOnClose(t *testing.T) {
	st := &memStore{}
	a := NewArchiver(Config{BatchSize: 100, FlushInterval: time.Hour}, st)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.TryRecord(archiveEnvelope("e1")))
	require.NoError(t, a.Close())

	assert.Len(t, st.saved(), 1)
}

func TestArchiverLifecycleErrors(t *testing.T) {
	a := NewArchiver(Config{}, &memStore{})
	assert.ErrorIs(t, a.TryRecord(archiveEnvelope("e1")), ErrNotStarted)

	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.TryRecord(archiveEnvelope("e2")), ErrClosed)
}

func TestArchiverDropsWhenQueueFull(t *testing.T) {
	st := &blockingStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	a := NewArchiver(Config{QueueSize: 1, BatchSize: 1, FlushInterval: time.Hour}, st)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.TryRecord(archiveEnvelope("e1")))
	<-st.entered // save loop is now stuck in the store

	require.NoError(t, a.TryRecord(archiveEnvelope("e2")))
	assert.ErrorIs(t, a.TryRecord(archiveEnvelope("e3")), ErrQueueFull)
	assert.Equal(t, uint64(1), a.Dropped())

	close(st.release)
	go func() {
		for range st.entered {
		}
	}()
	require.NoError(t, a.Close())
}
