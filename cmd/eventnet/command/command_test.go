package command

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"eventnet/internal/admin"
	"eventnet/internal/config"
	"eventnet/internal/events"
	"eventnet/internal/microservices/tcp"
	udp "eventnet/internal/microservices/udp-server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoreEvent struct {
	Value int32
}

func TestProbeTCPWaitsForReply(t *testing.T) {
	m := tcp.NewManager("127.0.0.1", 0, tcp.Options{})
	_, err := events.Register(m.Registry(), 1, func(e scoreEvent) {
		for _, c := range m.Clients() {
			m.SendTo(c.ID, 1, scoreEvent{Value: e.Value + 1})
		}
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	var out bytes.Buffer
	err = probe(context.Background(), probeOptions{
		transport:  "tcp",
		addr:       m.Addr().String(),
		eventID:    1,
		payloadHex: "2a000000",
		wait:       true,
		timeout:    2 * time.Second,
	}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "sent event=1 bytes=12 via tcp")
	assert.Contains(t, out.String(), "received event=1 payload=2b000000")
}

func TestProbeUDPWaitsForReply(t *testing.T) {
	var l *udp.Listener
	l = udp.NewListener("127.0.0.1", 0, udp.Options{OnPacket: func(p udp.Packet) {
		l.SendRaw(p.From, p.EventID+1, []byte{0xff})
	}})
	require.NoError(t, l.Start())
	defer l.Stop()

	var out bytes.Buffer
	err := probe(context.Background(), probeOptions{
		transport:  "udp",
		addr:       l.Addr().String(),
		eventID:    4,
		payloadHex: "",
		wait:       true,
		timeout:    2 * time.Second,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "received event=5 payload=ff")
}

func TestProbeRejectsBadInput(t *testing.T) {
	ctx := context.Background()

	err := probe(ctx, probeOptions{transport: "tcp", addr: "127.0.0.1:1", payloadHex: "xyz"}, io.Discard)
	assert.ErrorContains(t, err, "payload-hex")

	err = probe(ctx, probeOptions{transport: "sctp", addr: "127.0.0.1:1"}, io.Discard)
	assert.ErrorContains(t, err, "unknown transport")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("ADMIN_JWT_SECRET", "secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "ops", "--ttl", "1m", "--env-file", t.TempDir() + "/none.env"})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	subject, err := admin.NewTokenService("secret").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", subject)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := &config.Config{
		Host:          "127.0.0.1",
		MaxFrameSize:  1 << 20,
		UDPBufferSize: 4096,
		TCPRateBurst:  20,
		LogLevel:      "info",
		LogFormat:     "json",
		PresenceTTL:   time.Hour,
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
