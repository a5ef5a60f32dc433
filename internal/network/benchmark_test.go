package network

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"eventnet/internal/events"
	"eventnet/internal/protocol"
)

// Run with: go test -run ^$ -bench . ./internal/network/...

type moveEvent struct {
	PlayerID uint32
	X, Y     float32
	Running  bool
}

func startBenchNetwork(b *testing.B) (*Network, *atomic.Int64) {
	b.Helper()
	n, err := New(Config{Host: "127.0.0.1"})
	if err != nil {
		b.Fatal(err)
	}

	var received atomic.Int64
	if _, err := events.Register(n.Registry(), 1, func(moveEvent) { received.Add(1) }); err != nil {
		b.Fatal(err)
	}
	if err := n.Start(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { n.Stop() })
	return n, &received
}

func waitFor(b *testing.B, counter *atomic.Int64, want int64) {
	deadline := time.Now().Add(10 * time.Second)
	for counter.Load() < want {
		if time.Now().After(deadline) {
			b.Fatalf("received %d of %d events", counter.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func BenchmarkTCPDispatch(b *testing.B) {
	n, received := startBenchNetwork(b)
	m, _ := n.TCP()

	conn, err := net.Dial("tcp", m.Addr().String())
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()

	payload, _ := events.Marshal(moveEvent{PlayerID: 7, X: 1.5, Y: -2, Running: true})
	frame := protocol.Encode(1, payload)

	b.SetBytes(int64(len(frame)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(frame); err != nil {
			b.Fatal(err)
		}
	}
	waitFor(b, received, int64(b.N))
}

func BenchmarkTCPBroadcast(b *testing.B) {
	n, _ := startBenchNetwork(b)
	m, _ := n.TCP()

	const clients = 8
	for i := 0; i < clients; i++ {
		conn, err := net.Dial("tcp", m.Addr().String())
		if err != nil {
			b.Fatal(err)
		}
		defer conn.Close()
		go func() {
			buf := make([]byte, 32*1024)
			for {
				if _, err := conn.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	for m.ClientCount() < clients {
		time.Sleep(time.Millisecond)
	}

	event := moveEvent{PlayerID: 1, X: 3, Y: 4}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := m.Broadcast(1, event); err != nil {
			b.Fatal(err)
		}
	}
}
