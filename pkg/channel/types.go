package channel

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
)

// ConnectionState is the connection lifecycle state of a channel.
// Exactly one state is active at any instant, owned by the Manager.
type ConnectionState uint8

const (
	// StateIdle is the initial state before Start.
	StateIdle ConnectionState = iota
	// StateConnecting means the primary transport is being opened.
	StateConnecting
	// StateConnected means the primary transport is healthy.
	StateConnected
	// StateDegraded means polling substitutes for the primary transport.
	StateDegraded
	// StateReconnecting means the primary transport is being reopened after a failure.
	StateReconnecting
	// StateClosed is terminal; a stopped channel never resumes.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ActiveTransport identifies which transport currently delivers messages.
type ActiveTransport uint8

const (
	// TransportSocket is the primary low-latency transport.
	TransportSocket ActiveTransport = iota
	// TransportPoll is the HTTP polling fallback.
	TransportPoll
)

func (t ActiveTransport) String() string {
	if t == TransportPoll {
		return "poll"
	}
	return "socket"
}

// StateChange is delivered to state observers on every transition,
// including re-entries of the same state on consecutive retries.
type StateChange struct {
	State ConnectionState
	At    time.Time
}

// StateObserver receives state transitions. Side-effect only; it must not
// call back into the Manager.
type StateObserver func(StateChange)

// Snapshot is a read-only view of the channel for dashboards.
type Snapshot struct {
	State               ConnectionState
	ConsecutiveFailures uint
	CurrentInterval     time.Duration
	ActiveTransport     ActiveTransport
}

// Hooks are optional observation callbacks. Nil hooks are ignored.
type Hooks struct {
	// Published fires after an envelope is delivered to subscribers.
	Published func(envelopeType string)
	// DedupDropped fires when a duplicate eventId is silently dropped.
	DedupDropped func(eventID string)
	// DecodeFailed fires when a malformed frame is dropped.
	DecodeFailed func()
	// PollTick fires after each polling tick with its outcome.
	PollTick func(ok bool)
}

// Config defines the channel runtime configuration.
type Config struct {
	// SocketURL is the primary transport endpoint (ws:// or wss://).
	SocketURL string
	// PollURL is the polling fallback endpoint.
	PollURL string

	// Dialer opens primary transport connections. Defaults to the
	// websocket dialer.
	Dialer Dialer
	// HTTPClient issues polling and outbound fallback requests.
	HTTPClient *http.Client
	// Clock drives all timers. Defaults to the wall clock; tests inject
	// a mock.
	Clock clock.Clock

	Backoff Backoff

	HeartbeatInterval      time.Duration
	HeartbeatMissThreshold int

	// DegradeThreshold is the number of consecutive failed reconnect
	// attempts after which polling takes over.
	DegradeThreshold int

	// PollInterval is the base polling tick interval while degraded.
	PollInterval time.Duration
	// RequestTimeout bounds each poll or outbound fallback request.
	RequestTimeout time.Duration
	// DialTimeout bounds each primary transport open attempt.
	DialTimeout time.Duration

	// DedupWindow is how long a seen eventId blocks redelivery.
	// Defaults to twice the poll interval.
	DedupWindow time.Duration
	// DedupSize bounds the seen-eventId set.
	DedupSize int

	// OutboundQueueSize bounds sends buffered while the socket is down.
	OutboundQueueSize int

	Hooks Hooks
}

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultMissThreshold     = 2
	defaultDegradeThreshold  = 3
	defaultPollInterval      = 3 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultDedupSize         = 4096
	defaultOutboundQueue     = 256
)

func (cfg Config) withDefaults() Config {
	if cfg.Dialer == nil {
		cfg.Dialer = NewDialer(cfg.DialTimeout)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Backoff.Base <= 0 || cfg.Backoff.Max <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatMissThreshold <= 0 {
		cfg.HeartbeatMissThreshold = defaultMissThreshold
	}
	if cfg.DegradeThreshold <= 0 {
		cfg.DegradeThreshold = defaultDegradeThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 2 * cfg.PollInterval
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = defaultOutboundQueue
	}
	return cfg
}
