package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"eventnet/internal/events"
	"eventnet/internal/lifecycle"
	"eventnet/internal/microservices/tcp"
	"eventnet/internal/neterr"
	"eventnet/internal/protocol"
)

const component = "udp listener"

const DefaultBufferSize = 4096

// ClientLocator resolves a datagram sender to a known TCP client. It is
// read-only: the listener can never change TCP connection state through it.
type ClientLocator interface {
	LookupClient(addr *net.UDPAddr) (tcp.Client, bool)
}

// Packet describes one accepted datagram, reported before dispatch
type Packet struct {
	From    *net.UDPAddr
	EventID uint32
	Size    int // payload bytes
}

type Options struct {
	Logger     *slog.Logger
	Registry   *events.Registry // a private one is created when nil
	ErrorSink  neterr.Sink
	BufferSize int // receive buffer, DefaultBufferSize when <= 0
	Locator    ClientLocator
	OnPacket   func(Packet)
}

// Listener owns the UDP socket and the single receive loop. It keeps no
// per-peer state.
type Listener struct {
	addr       string
	registry   *events.Registry
	logger     *slog.Logger
	sink       neterr.Sink
	bufferSize int
	locator    ClientLocator
	onPacket   func(Packet)

	mu    sync.RWMutex
	state lifecycle.State
	conn  *net.UDPConn

	wg sync.WaitGroup
}

// NewListener creates a listener, no socket is opened until Start
func NewListener(host string, port int, opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = events.NewRegistry(events.Options{Logger: logger, ErrorSink: opts.ErrorSink})
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Listener{
		addr:       tcp.ListenAddress(host, port),
		registry:   registry,
		logger:     logger.With("component", "udp"),
		sink:       opts.ErrorSink,
		bufferSize: bufferSize,
		locator:    opts.Locator,
		onPacket:   opts.OnPacket,
	}
}

// Start binds the socket and spawns the receive loop. A bind failure leaves
// the listener NotStarted.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.state.CanStart(component); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return neterr.Socket("resolve "+l.addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return neterr.Socket("listen on "+l.addr, err)
	}
	l.conn = conn
	l.state = lifecycle.Started
	l.logger.Info("udp_server_started", "addr", conn.LocalAddr().String())

	l.wg.Add(1)
	go l.handleIncomingMessages(conn)
	return nil
}

// Stop closes the socket, which unblocks the receive loop, and waits for it
func (l *Listener) Stop() error {
	l.mu.Lock()
	if err := l.state.CanStop(component); err != nil {
		l.mu.Unlock()
		return err
	}
	l.state = lifecycle.Stopped
	err := l.conn.Close()
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("udp_server_stopped")
	if err != nil {
		return neterr.Socket("close", err)
	}
	return nil
}

// handleIncomingMessages is the receive loop: one datagram carries one frame
func (l *Listener) handleIncomingMessages(conn *net.UDPConn) {
	defer l.wg.Done()

	buffer := make([]byte, l.bufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !l.running() {
				return
			}
			l.logger.Error("udp_read_error", "error", err.Error())
			l.sink.Report(neterr.Socket("read", err))
			continue
		}

		frame, err := protocol.ParseDatagram(buffer[:n])
		if err != nil {
			l.logger.Warn("dropping_datagram",
				"remote_addr", from.String(),
				"size", n,
				"error", err.Error(),
			)
			l.sink.Report(fmt.Errorf("datagram from %s: %w", from, err))
			continue
		}

		l.packet(Packet{From: from, EventID: frame.EventID, Size: len(frame.Payload)})

		// the payload aliases buffer; Trigger decodes it before returning
		if err := l.registry.Trigger(frame.EventID, frame.Payload); err != nil && errors.Is(err, neterr.ErrProtocol) {
			l.logger.Warn("invalid_payload_received",
				"remote_addr", from.String(),
				"event_id", frame.EventID,
				"error", err.Error(),
			)
			l.sink.Report(fmt.Errorf("datagram from %s: %w", from, err))
		}
	}
}

func (l *Listener) packet(p Packet) {
	if l.onPacket == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			err := neterr.Dispatch("on_packet callback panicked: %v", rec)
			l.logger.Error("callback_panicked", "callback", "on_packet", "error", err.Error())
			l.sink.Report(err)
		}
	}()
	l.onPacket(p)
}

// Send serializes event through the registry and sends one datagram to addr.
// Failures are returned, never retried.
func (l *Listener) Send(addr *net.UDPAddr, eventID uint32, event any) error {
	payload, err := l.registry.Serialize(eventID, event)
	if err != nil {
		return err
	}
	return l.SendRaw(addr, eventID, payload)
}

// SendRaw frames an already encoded payload and sends it to addr
func (l *Listener) SendRaw(addr *net.UDPAddr, eventID uint32, payload []byte) error {
	l.mu.RLock()
	state := l.state
	conn := l.conn
	l.mu.RUnlock()

	if err := state.Require(component, "send"); err != nil {
		return err
	}
	if addr == nil {
		return neterr.Socket("send to nil address", nil)
	}
	if _, err := conn.WriteToUDP(protocol.Encode(eventID, payload), addr); err != nil {
		l.logger.Warn("failed_to_send_datagram",
			"remote_addr", addr.String(),
			"event_id", eventID,
			"error", err.Error(),
		)
		return neterr.Socket("send to "+addr.String(), err)
	}
	return nil
}

// LookupClient maps a datagram sender to a TCP client through the locator
func (l *Listener) LookupClient(addr *net.UDPAddr) (tcp.Client, bool) {
	if l.locator == nil {
		return tcp.Client{}, false
	}
	return l.locator.LookupClient(addr)
}

func (l *Listener) running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == lifecycle.Started
}

// State returns the current lifecycle state
func (l *Listener) State() lifecycle.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Addr returns the bound address, nil before Start
func (l *Listener) Addr() *net.UDPAddr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Registry returns the event registry datagrams are dispatched through
func (l *Listener) Registry() *events.Registry {
	return l.registry
}
