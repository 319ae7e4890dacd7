package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/cuetimer/go/internal/countdown"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGINS", "NATS_URL", "LOG_LEVEL", "HEARTBEAT_INTERVAL",
		"ROOM_TTL", "SWEEP_INTERVAL", "DEFAULT_DURATION_MS", "AUDIT_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cuetimer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, 250*time.Millisecond, c.Timer.HeartbeatInterval)
	assert.Equal(t, 6*time.Hour, c.Timer.RoomTTL)
	assert.Equal(t, 10*time.Minute, c.Timer.SweepInterval)
	assert.Equal(t, countdown.DefaultDurationMs, c.Timer.DefaultDurationMs)
	assert.Empty(t, c.Events.NATSURL)
	assert.False(t, c.Audit.Enabled)
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  port: "9000"
  allowed_origins: ["https://cues.example"]
timer:
  heartbeat_interval: 500ms
  room_ttl: 2h
  default_duration_ms: 120000
events:
  nats_url: nats://file:4222
audit:
  enabled: true
log:
  level: debug
`)
	t.Setenv("PORT", "9100")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", c.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.Server.AllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, c.Timer.HeartbeatInterval)
	assert.Equal(t, 2*time.Hour, c.Timer.RoomTTL)
	assert.Equal(t, time.Minute, c.Timer.SweepInterval)
	assert.Equal(t, int64(120000), c.Timer.DefaultDurationMs)
	assert.Equal(t, "nats://file:4222", c.Events.NATSURL)
	assert.Equal(t, "TIMER_EVENTS", c.Events.StreamName, "unset keys keep their defaults")
	assert.True(t, c.Audit.Enabled)
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel())
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "timer: [not, a, map]"))
	assert.Error(t, err)

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("ROOM_TTL", "forever")
		_, err := Load("")
		assert.ErrorContains(t, err, "ROOM_TTL")
	})

	t.Run("duration out of range", func(t *testing.T) {
		t.Setenv("DEFAULT_DURATION_MS", "10")
		_, err := Load("")
		assert.ErrorIs(t, err, countdown.ErrInvalidDuration)
	})

	t.Run("bad log level", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "loud")
		_, err := Load("")
		assert.ErrorContains(t, err, "log level")
	})
}
