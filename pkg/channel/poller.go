package channel

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// pollResponse is the polling fallback endpoint contract: zero or more
// envelopes since the cursor, plus the cursor for the next tick.
type pollResponse struct {
	Envelopes []Envelope `json:"envelopes"`
	Cursor    string     `json:"cursor"`
}

// poller substitutes for the primary transport while the channel is
// degraded. It keeps at most one request in flight, skipping a tick under
// back-pressure, and reschedules failed ticks at the delay the backoff
// controller returns. It is stateless apart from its timer and cursor;
// duplicate suppression happens at the dispatcher.
type poller struct {
	clk      clock.Clock
	client   *http.Client
	endpoint string
	base     time.Duration
	timeout  time.Duration

	deliver func(Envelope)
	success func()
	failure func() time.Duration
	hook    func(ok bool)

	outbound *outboundQueue

	mu       sync.Mutex
	active   bool
	epoch    uint64
	inFlight bool
	cursor   string
	session  string
	timer    *clock.Timer
}

func newPoller(cfg Config, deliver func(Envelope), success func(), failure func() time.Duration) *poller {
	return &poller{
		clk:      cfg.Clock,
		client:   cfg.HTTPClient,
		endpoint: cfg.PollURL,
		base:     cfg.PollInterval,
		timeout:  cfg.RequestTimeout,
		deliver:  deliver,
		success:  success,
		failure:  failure,
		hook:     cfg.Hooks.PollTick,
		outbound: newOutboundQueue(cfg.OutboundQueueSize),
	}
}

// Activate begins the tick loop for the session. The first tick fires
// immediately so degraded mode starts fetching without a full interval
// of silence.
func (p *poller) Activate(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return
	}
	p.active = true
	p.epoch++
	p.session = sessionID
	p.scheduleLocked(0, p.epoch)
}

// Deactivate cancels the pending timer. An in-flight request is allowed
// to complete but its result is discarded via the epoch check.
func (p *poller) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.active = false
	p.epoch++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Enqueue buffers an outbound envelope for the next tick. Best effort;
// the oldest pending send is dropped when the queue is full.
func (p *poller) Enqueue(env Envelope) {
	if dropped, ok := p.outbound.push(env); ok {
		logs.Warnf("outbound queue full, dropped oldest event: %s", dropped.EventID)
	}
}

// PendingOutbound reports the number of buffered sends.
func (p *poller) PendingOutbound() int {
	return p.outbound.len()
}

func (p *poller) scheduleLocked(delay time.Duration, epoch uint64) {
	p.timer = p.clk.AfterFunc(delay, func() { p.tick(epoch) })
}

func (p *poller) tick(epoch uint64) {
	p.mu.Lock()
	if !p.active || epoch != p.epoch {
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		// Back-pressure: never overlap two requests to the endpoint.
		p.scheduleLocked(p.base, epoch)
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	cursor := p.cursor
	session := p.session
	p.mu.Unlock()

	resp, err := p.request(cursor, session)

	p.mu.Lock()
	p.inFlight = false
	if !p.active || epoch != p.epoch {
		// Deactivated mid-flight; discard the result.
		p.mu.Unlock()
		return
	}
	if err != nil {
		delay := p.failure()
		p.scheduleLocked(delay, epoch)
		hook := p.hook
		p.mu.Unlock()
		logs.Warnf("poll tick failed, retry in %s, err: %+v", delay, err)
		if hook != nil {
			hook(false)
		}
		return
	}
	p.cursor = resp.Cursor
	p.success()
	p.scheduleLocked(p.base, epoch)
	hook := p.hook
	p.mu.Unlock()

	for _, env := range resp.Envelopes {
		p.deliver(env)
	}
	if hook != nil {
		hook(true)
	}
}

// request flushes buffered outbound envelopes in FIFO order, then fetches
// everything since the cursor. Any failure fails the whole tick.
func (p *poller) request(cursor, session string) (pollResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	pending := p.outbound.drain()
	for i, env := range pending {
		if err := p.post(ctx, env); err != nil {
			// Requeue what was not sent so the next tick retries it.
			p.outbound.requeue(pending[i:])
			return pollResponse{}, err
		}
	}

	return p.fetch(ctx, cursor, session)
}

func (p *poller) post(ctx context.Context, env Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build outbound request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrapf(exception.ErrPollRequest, "post outbound: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Wrapf(exception.ErrPollRequest, "post outbound status: %d", resp.StatusCode)
	}
	return nil
}

func (p *poller) fetch(ctx context.Context, cursor, session string) (pollResponse, error) {
	query := url.Values{}
	query.Set("sessionId", session)
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return pollResponse{}, errors.Wrap(err, "build poll request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return pollResponse{}, errors.Wrapf(exception.ErrPollRequest, "fetch: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return pollResponse{}, errors.Wrapf(exception.ErrPollRequest, "fetch status: %d", resp.StatusCode)
	}

	var decoded pollResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return pollResponse{}, errors.Wrapf(exception.ErrPollRequest, "decode poll response: %v", err)
	}
	return decoded, nil
}

// outboundQueue is a bounded FIFO for sends buffered while the socket is
// down. Overflow drops the oldest entry.
type outboundQueue struct {
	mu  sync.Mutex
	buf []Envelope
	max int
}

func newOutboundQueue(max int) *outboundQueue {
	if max <= 0 {
		max = defaultOutboundQueue
	}
	return &outboundQueue{max: max}
}

func (q *outboundQueue) push(env Envelope) (dropped Envelope, overflowed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.max {
		dropped = q.buf[0]
		q.buf = q.buf[1:]
		overflowed = true
	}
	q.buf = append(q.buf, env)
	return dropped, overflowed
}

func (q *outboundQueue) requeue(pending []Envelope) {
	q.mu.Lock()
	q.buf = append(append(make([]Envelope, 0, len(pending)+len(q.buf)), pending...), q.buf...)
	if len(q.buf) > q.max {
		q.buf = q.buf[len(q.buf)-q.max:]
	}
	q.mu.Unlock()
}

func (q *outboundQueue) drain() []Envelope {
	q.mu.Lock()
	pending := q.buf
	q.buf = nil
	q.mu.Unlock()
	return pending
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	n := len(q.buf)
	q.mu.Unlock()
	return n
}
