package ops

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"main/pkg/channel"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Endpoints EndpointsConfig `json:"endpoints"`
	Channel   ChannelConfig   `json:"channel"`
	Topics    []string        `json:"topics"`
	Archive   ArchiveConfig   `json:"archive"`
	Profiling ProfilingConfig `json:"profiling"`
}

// EndpointsConfig names the backend endpoints.
type EndpointsConfig struct {
	Session string `json:"session"`
	Socket  string `json:"socket"`
	Poll    string `json:"poll"`
}

// ChannelConfig tunes liveness, backoff and fallback timing.
// Durations are milliseconds; zero values take channel defaults.
type ChannelConfig struct {
	HeartbeatIntervalMs    int64   `json:"heartbeatIntervalMs"`
	HeartbeatMissThreshold int     `json:"heartbeatMissThreshold"`
	DegradeThreshold       int     `json:"degradeThreshold"`
	PollIntervalMs         int64   `json:"pollIntervalMs"`
	BackoffBaseMs          int64   `json:"backoffBaseMs"`
	BackoffMaxMs           int64   `json:"backoffMaxMs"`
	BackoffFactor          float64 `json:"backoffFactor"`
	DialTimeoutMs          int64   `json:"dialTimeoutMs"`
	RequestTimeoutMs       int64   `json:"requestTimeoutMs"`
	DedupWindowMs          int64   `json:"dedupWindowMs"`
	DedupSize              int     `json:"dedupSize"`
	OutboundQueueSize      int     `json:"outboundQueueSize"`
}

// ArchiveConfig describes the optional envelope archive.
type ArchiveConfig struct {
	Enabled         bool           `json:"enabled"`
	QueueSize       int            `json:"queueSize"`
	BatchSize       int            `json:"batchSize"`
	FlushIntervalMs int64          `json:"flushIntervalMs"`
	Postgres        PostgresConfig `json:"postgres"`
}

// PostgresConfig describes the archive database connection.
type PostgresConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	ConnString string `json:"connString"`
}

// ProfilingConfig captures optional pyroscope settings.
type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	SessionURL string
	Channel    channel.Config
	Topics     []string
	Archive    ArchiveSpec
	Profiling  ProfilingConfig
}

// ArchiveSpec is the resolved archive definition.
type ArchiveSpec struct {
	Enabled       bool
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	Postgres      conn.Option
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and builds the runtime settings.
func Resolve(cfg FileConfig) (Loaded, error) {
	if err := validateEndpoint(cfg.Endpoints.Session, "session", "http", "https"); err != nil {
		return Loaded{}, err
	}
	if err := validateEndpoint(cfg.Endpoints.Socket, "socket", "ws", "wss"); err != nil {
		return Loaded{}, err
	}
	if err := validateEndpoint(cfg.Endpoints.Poll, "poll", "http", "https"); err != nil {
		return Loaded{}, err
	}
	chCfg, err := resolveChannel(cfg)
	if err != nil {
		return Loaded{}, err
	}
	archive, err := resolveArchive(cfg.Archive)
	if err != nil {
		return Loaded{}, err
	}
	topics := cfg.Topics
	if len(topics) == 0 {
		topics = []string{"chat.message"}
	}
	profiling := cfg.Profiling
	if profiling.AppName == "" {
		profiling.AppName = "chat"
	}
	return Loaded{
		SessionURL: cfg.Endpoints.Session,
		Channel:    chCfg,
		Topics:     topics,
		Archive:    archive,
		Profiling:  profiling,
	}, nil
}

func validateEndpoint(raw, name string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("endpoints.%s is empty", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("endpoints.%s: %w", name, err)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("endpoints.%s: unsupported scheme %q", name, u.Scheme)
}

func resolveChannel(cfg FileConfig) (channel.Config, error) {
	ch := cfg.Channel
	if ch.HeartbeatIntervalMs < 0 || ch.PollIntervalMs < 0 || ch.BackoffBaseMs < 0 ||
		ch.BackoffMaxMs < 0 || ch.DialTimeoutMs < 0 || ch.RequestTimeoutMs < 0 || ch.DedupWindowMs < 0 {
		return channel.Config{}, fmt.Errorf("channel durations must be >= 0")
	}
	if ch.BackoffFactor < 0 || (ch.BackoffFactor > 0 && ch.BackoffFactor < 1) {
		return channel.Config{}, fmt.Errorf("channel.backoffFactor must be >= 1")
	}
	if ch.BackoffMaxMs > 0 && ch.BackoffBaseMs > ch.BackoffMaxMs {
		return channel.Config{}, fmt.Errorf("channel.backoffBaseMs must be <= backoffMaxMs")
	}

	backoff := channel.DefaultBackoff()
	if ch.BackoffBaseMs > 0 {
		backoff.Base = time.Duration(ch.BackoffBaseMs) * time.Millisecond
	}
	if ch.BackoffMaxMs > 0 {
		backoff.Max = time.Duration(ch.BackoffMaxMs) * time.Millisecond
	}
	if ch.BackoffFactor > 0 {
		backoff.Factor = ch.BackoffFactor
	}

	return channel.Config{
		SocketURL:              cfg.Endpoints.Socket,
		PollURL:                cfg.Endpoints.Poll,
		Backoff:                backoff,
		HeartbeatInterval:      time.Duration(ch.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatMissThreshold: ch.HeartbeatMissThreshold,
		DegradeThreshold:       ch.DegradeThreshold,
		PollInterval:           time.Duration(ch.PollIntervalMs) * time.Millisecond,
		DialTimeout:            time.Duration(ch.DialTimeoutMs) * time.Millisecond,
		RequestTimeout:         time.Duration(ch.RequestTimeoutMs) * time.Millisecond,
		DedupWindow:            time.Duration(ch.DedupWindowMs) * time.Millisecond,
		DedupSize:              ch.DedupSize,
		OutboundQueueSize:      ch.OutboundQueueSize,
	}, nil
}

func resolveArchive(cfg ArchiveConfig) (ArchiveSpec, error) {
	spec := ArchiveSpec{
		Enabled:       cfg.Enabled,
		QueueSize:     cfg.QueueSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
		Postgres: conn.Option{
			Host:       cfg.Postgres.Host,
			Port:       cfg.Postgres.Port,
			User:       cfg.Postgres.User,
			Password:   cfg.Postgres.Password,
			Database:   cfg.Postgres.Database,
			SSLMode:    cfg.Postgres.SSLMode,
			ConnString: cfg.Postgres.ConnString,
		},
	}
	if !cfg.Enabled {
		return spec, nil
	}
	if cfg.Postgres.ConnString == "" && cfg.Postgres.Database == "" {
		return ArchiveSpec{}, fmt.Errorf("archive.postgres.database is empty")
	}
	return spec, nil
}
