package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/errors"
	"main/pkg/channel"
)

var (
	ErrQueueFull      = errors.New("archive queue full")
	ErrClosed         = errors.New("archiver closed")
	ErrNotStarted     = errors.New("archiver not started")
	ErrAlreadyStarted = errors.New("archiver already started")
)

// Config controls archiver buffering and batching.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	SaveTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 5 * time.Second
	}
	return c
}

// Archiver persists delivered envelopes to a store from a buffered queue.
// Enqueueing never blocks the delivery path; under pressure records are
// dropped and counted rather than stalling the channel.
type Archiver struct {
	cfg   Config
	store store
	ch    chan Record
	wg    sync.WaitGroup
	err   atomic.Value

	started uint32
	closed  uint32
	dropped atomic.Uint64
}

// NewArchiver creates an archiver writing to the given store.
func NewArchiver(cfg Config, st store) *Archiver {
	cfg = cfg.withDefaults()
	return &Archiver{
		cfg:   cfg,
		store: st,
		ch:    make(chan Record, cfg.QueueSize),
	}
}

// Start runs the archiver loop in a new goroutine.
func (a *Archiver) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&a.started, 0, 1) {
		return ErrAlreadyStarted
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
	return nil
}

// Close stops the archiver and flushes any buffered records.
func (a *Archiver) Close() error {
	if atomic.CompareAndSwapUint32(&a.closed, 0, 1) {
		close(a.ch)
	}
	a.wg.Wait()
	return a.Err()
}

// Err returns the first error observed by the save loop, if any.
func (a *Archiver) Err() error {
	if v := a.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped reports how many records were discarded because the queue was full.
func (a *Archiver) Dropped() uint64 {
	return a.dropped.Load()
}

// TryRecord enqueues an envelope without blocking.
func (a *Archiver) TryRecord(env channel.Envelope) error {
	if atomic.LoadUint32(&a.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&a.started) == 0 {
		return ErrNotStarted
	}
	select {
	case a.ch <- newRecord(env, time.Now().UTC()):
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Sink returns a subscription callback that archives each envelope.
func (a *Archiver) Sink() func(channel.Envelope) {
	return func(env channel.Envelope) {
		if err := a.TryRecord(env); err != nil && !errors.Is(err, ErrQueueFull) {
			logs.Warnf("archive envelope %s: %v", env.EventID, err)
		}
	}
}

func (a *Archiver) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, a.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			a.drainNonBlocking(batch)
			return
		case rec, ok := <-a.ch:
			if !ok {
				a.save(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= a.cfg.BatchSize {
				a.save(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			a.save(batch)
			batch = batch[:0]
		}
	}
}

func (a *Archiver) drainNonBlocking(batch []Record) {
	for {
		select {
		case rec, ok := <-a.ch:
			if !ok {
				a.save(batch)
				return
			}
			batch = append(batch, rec)
		default:
			a.save(batch)
			return
		}
	}
}

func (a *Archiver) save(batch []Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SaveTimeout)
	defer cancel()
	if err := a.store.SaveBatch(ctx, batch); err != nil {
		logs.Errorf("archive save batch of %d: %v", len(batch), err)
		a.setErr(err)
	}
}

func (a *Archiver) setErr(err error) {
	if err == nil {
		return
	}
	if a.err.Load() != nil {
		return
	}
	a.err.Store(err)
}
