package ops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFileConfig() FileConfig {
	return FileConfig{
		Endpoints: EndpointsConfig{
			Session: "http://localhost:8080/session",
			Socket:  "ws://localhost:8080/ws",
			Poll:    "http://localhost:8080/poll",
		},
	}
}

func TestResolveDefaults(t *testing.T) {
	loaded, err := Resolve(validFileConfig())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/session", loaded.SessionURL)
	assert.Equal(t, "ws://localhost:8080/ws", loaded.Channel.SocketURL)
	assert.Equal(t, "http://localhost:8080/poll", loaded.Channel.PollURL)
	assert.Equal(t, 500*time.Millisecond, loaded.Channel.Backoff.Base)
	assert.Equal(t, []string{"chat.message"}, loaded.Topics)
	assert.Equal(t, "chat", loaded.Profiling.AppName)
	assert.False(t, loaded.Archive.Enabled)
}

func TestResolveChannelOverrides(t *testing.T) {
	cfg := validFileConfig()
	cfg.Channel = ChannelConfig{
		HeartbeatIntervalMs:    5000,
		HeartbeatMissThreshold: 3,
		DegradeThreshold:       5,
		PollIntervalMs:         2000,
		BackoffBaseMs:          250,
		BackoffMaxMs:           30000,
		BackoffFactor:          1.5,
	}
	cfg.Topics = []string{"chat.message", "presence.update"}

	loaded, err := Resolve(cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, loaded.Channel.HeartbeatInterval)
	assert.Equal(t, 3, loaded.Channel.HeartbeatMissThreshold)
	assert.Equal(t, 5, loaded.Channel.DegradeThreshold)
	assert.Equal(t, 2*time.Second, loaded.Channel.PollInterval)
	assert.Equal(t, 250*time.Millisecond, loaded.Channel.Backoff.Base)
	assert.Equal(t, 30*time.Second, loaded.Channel.Backoff.Max)
	assert.Equal(t, 1.5, loaded.Channel.Backoff.Factor)
	assert.Equal(t, []string{"chat.message", "presence.update"}, loaded.Topics)
}

func TestResolveRejectsBadEndpoints(t *testing.T) {
	cfg := validFileConfig()
	cfg.Endpoints.Socket = "http://localhost:8080/ws"
	_, err := Resolve(cfg)
	assert.ErrorContains(t, err, "endpoints.socket")

	cfg = validFileConfig()
	cfg.Endpoints.Poll = ""
	_, err = Resolve(cfg)
	assert.ErrorContains(t, err, "endpoints.poll is empty")
}

func TestResolveRejectsBadBackoff(t *testing.T) {
	cfg := validFileConfig()
	cfg.Channel.BackoffFactor = 0.5
	_, err := Resolve(cfg)
	assert.ErrorContains(t, err, "backoffFactor")

	cfg = validFileConfig()
	cfg.Channel.BackoffBaseMs = 60000
	cfg.Channel.BackoffMaxMs = 1000
	_, err = Resolve(cfg)
	assert.ErrorContains(t, err, "backoffBaseMs")
}

func TestResolveArchiveRequiresDatabase(t *testing.T) {
	cfg := validFileConfig()
	cfg.Archive.Enabled = true
	_, err := Resolve(cfg)
	assert.ErrorContains(t, err, "archive.postgres.database")

	cfg.Archive.Postgres.Database = "chat"
	loaded, err := Resolve(cfg)
	require.NoError(t, err)
	assert.True(t, loaded.Archive.Enabled)
	assert.Equal(t, "chat", loaded.Archive.Postgres.Database)
}
