package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eventnet/internal/neterr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("NET_HOST", "127.0.0.1")
	t.Setenv("TCP_PORT", "4242")
	t.Setenv("UDP_PORT", "4243")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4242, cfg.TCPPort)
	assert.Equal(t, 4243, cfg.UDPPort)
	assert.Equal(t, 1<<20, cfg.MaxFrameSize)
	assert.Equal(t, 4096, cfg.UDPBufferSize)
	assert.Zero(t, cfg.TCPRateLimit)
	assert.Equal(t, 20, cfg.TCPRateBurst)
	assert.False(t, cfg.StrictPayloadLength)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 24*time.Hour, cfg.PresenceTTL)
	assert.False(t, cfg.AdminEnabled())
	assert.False(t, cfg.PresenceEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_FRAME_SIZE", "2048")
	t.Setenv("TCP_RATE_LIMIT", "12.5")
	t.Setenv("STRICT_PAYLOAD_LENGTH", "true")
	t.Setenv("ADMIN_PORT", "9090")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PRESENCE_TTL", "90m")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.MaxFrameSize)
	assert.Equal(t, 12.5, cfg.TCPRateLimit)
	assert.True(t, cfg.StrictPayloadLength)
	assert.True(t, cfg.AdminEnabled())
	assert.True(t, cfg.PresenceEnabled())
	assert.Equal(t, 90*time.Minute, cfg.PresenceTTL)

	net := cfg.Network()
	assert.Equal(t, 2048, net.MaxFrameSize)
	assert.Equal(t, 12.5, net.RateLimit)
	assert.True(t, net.StrictPayloadLength)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("NET_HOST=localhost\nTCP_PORT=0\nUDP_PORT=0\nLOG_FORMAT=text\n"), 0o600))

	// godotenv never overrides variables that are already set
	t.Setenv("NET_HOST", "")
	t.Setenv("TCP_PORT", "")
	t.Setenv("UDP_PORT", "")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("NET_HOST")
	os.Unsetenv("TCP_PORT")
	os.Unsetenv("UDP_PORT")
	os.Unsetenv("LOG_FORMAT")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing host", map[string]string{"NET_HOST": ""}},
		{"missing tcp port", map[string]string{"TCP_PORT": ""}},
		{"bad udp port", map[string]string{"UDP_PORT": "eighty"}},
		{"port out of range", map[string]string{"TCP_PORT": "70000"}},
		{"hostname", map[string]string{"NET_HOST": "example.com"}},
		{"bad bool", map[string]string{"STRICT_PAYLOAD_LENGTH": "maybe"}},
		{"bad duration", map[string]string{"PRESENCE_TTL": "soon"}},
		{"tiny frame limit", map[string]string{"MAX_FRAME_SIZE": "2"}},
		{"negative rate", map[string]string{"TCP_RATE_LIMIT": "-1"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "trace"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorIs(t, err, neterr.ErrConfiguration)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("client_removed", "client_id", "c1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "client_removed", line["msg"])
	assert.Equal(t, "c1", line["client_id"])

	buf.Reset()
	text := (&Config{LogLevel: "debug", LogFormat: "text"}).NewLogger(&buf)
	text.Debug("frame_received")
	assert.Contains(t, buf.String(), "msg=frame_received")
}
