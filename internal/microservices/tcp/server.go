package tcp

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"eventnet/internal/events"
	"eventnet/internal/lifecycle"
	"eventnet/internal/neterr"
	"eventnet/internal/protocol"

	"golang.org/x/time/rate"
)

const component = "tcp manager"

const (
	defaultRateBurst = 20
	maxAcceptDelay   = time.Second
)

type Options struct {
	Logger   *slog.Logger
	Registry *events.Registry // shared with other transports; a private one is created when nil
	// ErrorSink receives per-connection failures that have no caller to return to
	ErrorSink    neterr.Sink
	MaxFrameSize int     // bound on a frame's length field, protocol.DefaultMaxFrameSize when <= 0
	RateLimit    float64 // inbound frames per second per client, 0 disables
	RateBurst    int
	OnConnect    func(Client)
	OnDisconnect func(Client)
}

// Manager owns the listening socket, the accept loop, one receive task per
// client and the registry of live clients
type Manager struct {
	addr         string
	registry     *events.Registry
	logger       *slog.Logger
	sink         neterr.Sink
	maxFrameSize int
	limit        rate.Limit
	burst        int

	mu           sync.RWMutex // guards everything below
	state        lifecycle.State
	listener     net.Listener
	clients      map[string]*connection // key: client ID
	onConnect    func(Client)
	onDisconnect func(Client)

	wg sync.WaitGroup // accept loop and receive tasks
}

// constructor for Manager, no socket is opened until Start
func NewManager(host string, port int, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = events.NewRegistry(events.Options{Logger: logger, ErrorSink: opts.ErrorSink})
	}
	maxFrameSize := opts.MaxFrameSize
	if maxFrameSize <= 0 {
		maxFrameSize = protocol.DefaultMaxFrameSize
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return &Manager{
		addr:         ListenAddress(host, port),
		registry:     registry,
		logger:       logger.With("component", "tcp"),
		sink:         opts.ErrorSink,
		maxFrameSize: maxFrameSize,
		limit:        rate.Limit(opts.RateLimit),
		burst:        burst,
		clients:      make(map[string]*connection),
		onConnect:    opts.OnConnect,
		onDisconnect: opts.OnDisconnect,
	}
}

// Start binds the listening socket and spawns the accept loop. A bind
// failure leaves the manager NotStarted.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.state.CanStart(component); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", m.addr)
	if err != nil {
		return neterr.Socket("listen on "+m.addr, err)
	}
	m.listener = listener
	m.state = lifecycle.Started
	m.logger.Info("tcp_server_started", "addr", listener.Addr().String())

	m.wg.Add(1)
	go m.acceptLoop(listener)
	return nil
}

// Stop closes the listening socket and every client socket, clears the
// client registry and waits for the accept loop and receive tasks to exit.
// Receive tasks still fire OnDisconnect for their client.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if err := m.state.CanStop(component); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = lifecycle.Stopped
	m.listener.Close()
	for id, c := range m.clients {
		c.close()
		m.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	m.clients = make(map[string]*connection)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("tcp_server_stopped")
	return nil
}

func (m *Manager) acceptLoop(listener net.Listener) {
	defer m.wg.Done()

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !m.running() {
				return
			}
			m.logger.Error("failed_to_accept_connection", "error", err.Error())
			m.sink.Report(neterr.Socket("accept", err))

			// back off on repeated failures, e.g. file descriptor exhaustion
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			time.Sleep(delay)
			continue
		}
		delay = 0
		m.addConnection(conn)
	}
}

// addConnection registers an accepted socket and spawns its receive task
func (m *Manager) addConnection(conn net.Conn) {
	c := newConnection(conn, m.limit, m.burst)

	m.mu.Lock()
	if m.state != lifecycle.Started {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.clients[c.info.ID] = c
	onConnect := m.onConnect
	m.mu.Unlock()

	m.logger.Info("client_added",
		"client_id", c.info.ID,
		"remote_addr", c.info.Addr(),
	)
	m.callback("on_connect", onConnect, c.info)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.listen(c)
	}()
}

// disconnect removes c from the registry (only c, never a newer entry),
// closes its socket and fires OnDisconnect
func (m *Manager) disconnect(c *connection) {
	m.mu.Lock()
	if current, ok := m.clients[c.info.ID]; ok && current == c {
		delete(m.clients, c.info.ID)
	}
	onDisconnect := m.onDisconnect
	m.mu.Unlock()

	c.close()
	m.logger.Info("client_removed",
		"client_id", c.info.ID,
	)
	m.callback("on_disconnect", onDisconnect, c.info)
}

func (m *Manager) callback(name string, fn func(Client), client Client) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			err := neterr.Dispatch("%s callback for client %s panicked: %v", name, client.ID, rec)
			m.logger.Error("callback_panicked",
				"callback", name,
				"client_id", client.ID,
				"error", err.Error(),
			)
			m.sink.Report(err)
		}
	}()
	fn(client)
}

func (m *Manager) running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == lifecycle.Started
}

// SetOnConnect replaces the callback fired after a client is registered
func (m *Manager) SetOnConnect(fn func(Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = fn
}

// SetOnDisconnect replaces the callback fired after a client is removed
func (m *Manager) SetOnDisconnect(fn func(Client)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = fn
}

// State returns the current lifecycle state
func (m *Manager) State() lifecycle.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Addr returns the bound listening address, nil before Start
func (m *Manager) Addr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Registry returns the event registry inbound frames are dispatched through
func (m *Manager) Registry() *events.Registry {
	return m.registry
}
