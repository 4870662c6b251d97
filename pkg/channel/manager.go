package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// Manager is the single source of truth for connection state and the only
// component that opens or closes the primary transport. All inbound
// envelopes, from the socket or from polling, converge on its Dispatcher.
//
// A Manager serves one logical session. Closed is terminal; construct a
// fresh Manager instead of restarting a stopped one.
type Manager struct {
	cfg        Config
	dispatcher *Dispatcher
	poll       *poller

	mu        sync.Mutex
	state     ConnectionState
	backoff   BackoffState
	session   Session
	conn      Conn
	observers []StateObserver
	retries   int
	transport ActiveTransport
	epoch     uint64
	cancel    context.CancelFunc
}

// NewManager validates config and builds a manager with its dispatcher.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SocketURL == "" || cfg.PollURL == "" {
		return nil, exception.ErrInvalidArgument
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:   cfg,
		state: StateIdle,
	}
	m.backoff.CurrentInterval = cfg.Backoff.Base
	m.dispatcher = NewDispatcher(cfg.DedupSize, cfg.DedupWindow)
	m.dispatcher.setHooks(cfg.Hooks)
	m.poll = newPoller(cfg, m.dispatcher.Publish, m.pollSucceeded, m.pollFailed)
	return m, nil
}

// Dispatcher exposes the fan-out surface consumers subscribe on.
func (m *Manager) Dispatcher() *Dispatcher {
	if m == nil {
		return nil
	}
	return m.dispatcher
}

// Subscribe registers a topic callback on the dispatcher.
func (m *Manager) Subscribe(topic string, callback SubscriberFunc) (func(), error) {
	if m == nil {
		return nil, exception.ErrNilInstance
	}
	return m.dispatcher.Subscribe(topic, callback)
}

// OnStateChange registers an observer invoked on every state transition,
// including re-entries of Reconnecting on consecutive retries. Side-effect
// only; it never affects channel behavior.
func (m *Manager) OnStateChange(observer StateObserver) {
	if m == nil || observer == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, observer)
	m.mu.Unlock()
}

// Snapshot returns a read-only view for rendering connection badges.
func (m *Manager) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:               m.state,
		ConsecutiveFailures: m.backoff.ConsecutiveFailures,
		CurrentInterval:     m.backoff.CurrentInterval,
		ActiveTransport:     m.transport,
	}
}

// Start opens the channel for the given session. Idempotent: calling it
// again while the channel is live is a no-op. Starting a stopped manager
// fails with ErrChannelClosed.
func (m *Manager) Start(ctx context.Context, session Session) error {
	if m == nil {
		return exception.ErrNilInstance
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return exception.ErrChannelClosed
	case StateIdle:
	default:
		m.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.session = session
	m.cancel = cancel
	epoch := m.epoch
	m.state = StateConnecting
	observers, at := m.observersLocked()
	m.mu.Unlock()

	m.notify(observers, StateConnecting, at)
	go m.run(runCtx, epoch)
	return nil
}

// Stop closes the channel from any state. Safe to call repeatedly and
// safe to call mid-connect or mid-poll: the epoch guard makes any late
// transport callback a no-op.
func (m *Manager) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.epoch++
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.state = StateClosed
	observers, at := m.observersLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.poll.Deactivate()
	m.notify(observers, StateClosed, at)
	m.dispatcher.Close()
}

// Send routes an envelope to whichever transport is usable. While
// Connected it writes straight to the socket; otherwise the envelope is
// buffered for the polling fallback, best effort. Outbound ordering is
// not guaranteed across a transport switch.
func (m *Manager) Send(env Envelope) error {
	if m == nil {
		return exception.ErrNilInstance
	}

	m.mu.Lock()
	state := m.state
	conn := m.conn
	m.mu.Unlock()

	if state == StateClosed {
		return exception.ErrChannelClosed
	}
	if state != StateConnected || conn == nil {
		m.poll.Enqueue(env)
		return nil
	}

	payload, err := env.Encode()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
	defer cancel()
	if err := conn.Write(ctx, payload); err != nil {
		// The link is dying; hand the envelope to the fallback queue and
		// let the read loop drive the reconnect.
		logs.Warnf("socket write failed, queueing event %s, err: %+v", env.EventID, err)
		m.poll.Enqueue(env)
		_ = conn.Close()
	}
	return nil
}

func (m *Manager) run(ctx context.Context, epoch uint64) {
	for {
		if ctx.Err() != nil {
			return
		}

		dialCtx, cancelDial := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.cfg.Dialer.Dial(dialCtx, m.cfg.SocketURL)
		cancelDial()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay, ok := m.connectFailed(epoch, err)
			if !ok || !m.sleep(ctx, delay) {
				return
			}
			continue
		}

		if !m.connectSucceeded(epoch, conn) {
			_ = conn.Close()
			return
		}
		m.flushOutbound(ctx, conn)

		err = m.runConn(ctx, conn)
		_ = conn.Close()

		delay, ok := m.connLost(epoch, err)
		if !ok {
			return
		}
		if !m.sleep(ctx, delay) {
			return
		}
	}
}

// connectFailed advances the backoff run and announces Reconnecting, or
// Degraded once the retry count exceeds the threshold.
func (m *Manager) connectFailed(epoch uint64, err error) (time.Duration, bool) {
	m.mu.Lock()
	if m.epoch != epoch || m.state == StateClosed {
		m.mu.Unlock()
		return 0, false
	}
	m.retries++
	delay, next := m.cfg.Backoff.Next(m.cfg.Clock.Now(), m.backoff)
	m.backoff = next

	target := StateReconnecting
	activatePoll := false
	if m.retries > m.cfg.DegradeThreshold {
		target = StateDegraded
		if m.state != StateDegraded {
			activatePoll = true
			m.transport = TransportPoll
		}
	}
	announce := target != StateDegraded || activatePoll
	m.state = target
	attempt := m.retries
	session := m.session.SessionID
	observers, at := m.observersLocked()
	m.mu.Unlock()

	logs.Warnf("transport open failed, attempt %d, retry in %s, err: %+v", attempt, delay, err)
	if activatePoll {
		m.poll.Activate(session)
	}
	if announce {
		m.notify(observers, target, at)
	}
	return delay, true
}

func (m *Manager) connectSucceeded(epoch uint64, conn Conn) bool {
	m.mu.Lock()
	if m.epoch != epoch || m.state == StateClosed {
		m.mu.Unlock()
		return false
	}
	wasDegraded := m.state == StateDegraded
	m.conn = conn
	m.retries = 0
	m.backoff = m.cfg.Backoff.Success(m.backoff)
	m.transport = TransportSocket
	m.state = StateConnected
	observers, at := m.observersLocked()
	m.mu.Unlock()

	if wasDegraded {
		// Reconnect won the race; halt polling immediately.
		m.poll.Deactivate()
	}
	m.notify(observers, StateConnected, at)
	return true
}

// connLost announces Reconnecting after a live connection drops and
// returns the delay before the next dial.
func (m *Manager) connLost(epoch uint64, err error) (time.Duration, bool) {
	m.mu.Lock()
	m.conn = nil
	if m.epoch != epoch || m.state == StateClosed {
		m.mu.Unlock()
		return 0, false
	}
	delay, next := m.cfg.Backoff.Next(m.cfg.Clock.Now(), m.backoff)
	m.backoff = next
	m.state = StateReconnecting
	observers, at := m.observersLocked()
	m.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logs.Warnf("connection lost, retry in %s, err: %+v", delay, err)
	}
	m.notify(observers, StateReconnecting, at)
	return delay, true
}

// runConn services one live connection: it arms the heartbeat, pumps the
// read loop, and returns when the link dies or is declared dead.
func (m *Manager) runConn(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	session := m.session.SessionID
	m.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDead := make(chan struct{}, 1)
	hb := newHeartbeat(m.cfg.Clock,
		func() error {
			payload, err := heartbeatEnvelope(session).Encode()
			if err != nil {
				return err
			}
			return conn.Write(connCtx, payload)
		},
		func() {
			select {
			case hbDead <- struct{}{}:
			default:
			}
		},
	)
	hb.Arm(m.cfg.HeartbeatInterval, m.cfg.HeartbeatMissThreshold)
	defer hb.Disarm()

	errCh := make(chan error, 1)
	go m.readLoop(conn, hb, errCh)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	case <-hbDead:
		return exception.ErrHeartbeatTimeout
	}
}

func (m *Manager) readLoop(conn Conn, hb *heartbeat, errCh chan<- error) {
	for {
		data, err := conn.Read()
		if err != nil {
			errCh <- err
			return
		}
		env, err := DecodeEnvelope(data)
		if err != nil {
			logs.Warnf("dropped malformed frame, err: %+v", err)
			if hook := m.cfg.Hooks.DecodeFailed; hook != nil {
				hook()
			}
			continue
		}
		if env.Type == TypeHeartbeat {
			hb.Pong()
			continue
		}
		m.dispatcher.Publish(env)
	}
}

// flushOutbound drains sends buffered while the socket was down onto the
// freshly recovered connection, in FIFO order.
func (m *Manager) flushOutbound(ctx context.Context, conn Conn) {
	pending := m.poll.outbound.drain()
	for i, env := range pending {
		payload, err := env.Encode()
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, payload); err != nil {
			m.poll.outbound.requeue(pending[i:])
			return
		}
	}
}

func (m *Manager) pollSucceeded() {
	m.mu.Lock()
	m.backoff = m.cfg.Backoff.Success(m.backoff)
	m.mu.Unlock()
}

func (m *Manager) pollFailed() time.Duration {
	m.mu.Lock()
	delay, next := m.cfg.Backoff.Next(m.cfg.Clock.Now(), m.backoff)
	m.backoff = next
	m.mu.Unlock()
	return delay
}

func (m *Manager) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := m.cfg.Clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) observersLocked() ([]StateObserver, time.Time) {
	observers := make([]StateObserver, len(m.observers))
	copy(observers, m.observers)
	return observers, m.cfg.Clock.Now()
}

func (m *Manager) notify(observers []StateObserver, state ConnectionState, at time.Time) {
	for _, observer := range observers {
		observer(StateChange{State: state, At: at})
	}
}
