package network

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"eventnet/internal/events"
	"eventnet/internal/lifecycle"
	"eventnet/internal/microservices/tcp"
	udp "eventnet/internal/microservices/udp-server"
	"eventnet/internal/neterr"
)

const component = "network"

// Config is everything the facade needs. Host, TCPPort and UDPPort are
// required; port 0 asks the OS for a free port.
type Config struct {
	Host    string // bind address, "localhost" binds every interface
	TCPPort int
	UDPPort int

	Logger              *slog.Logger
	ErrorSink           neterr.Sink
	MaxFrameSize        int
	UDPBufferSize       int
	RateLimit           float64
	RateBurst           int
	StrictPayloadLength bool

	OnConnect    func(tcp.Client)
	OnDisconnect func(tcp.Client)
	OnPacket     func(udp.Packet)
}

// Validate checks the host and port settings
func (c Config) Validate() error {
	if c.Host == "" {
		return neterr.Configuration("host is required")
	}
	if c.Host != "localhost" && net.ParseIP(c.Host) == nil {
		return neterr.Configuration("host %q is neither \"localhost\" nor an ip address", c.Host)
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return neterr.Configuration("tcp port %d out of range", c.TCPPort)
	}
	if c.UDPPort < 0 || c.UDPPort > 65535 {
		return neterr.Configuration("udp port %d out of range", c.UDPPort)
	}
	return nil
}

// Network composes the TCP manager and the UDP listener around one shared
// event registry
type Network struct {
	cfg      Config
	logger   *slog.Logger
	registry *events.Registry

	mu    sync.Mutex
	state lifecycle.State
	tcp   *tcp.Manager
	udp   *udp.Listener
}

// New stores the configuration; no socket is touched until Start
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Network{
		cfg:    cfg,
		logger: logger,
		registry: events.NewRegistry(events.Options{
			Logger:              logger,
			ErrorSink:           cfg.ErrorSink,
			StrictPayloadLength: cfg.StrictPayloadLength,
		}),
	}, nil
}

// Start brings up TCP then UDP. If either fails, whatever was started is
// stopped again and the facade stays NotStarted.
func (n *Network) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.state.CanStart(component); err != nil {
		return err
	}

	tcpManager := tcp.NewManager(n.cfg.Host, n.cfg.TCPPort, tcp.Options{
		Logger:       n.logger,
		Registry:     n.registry,
		ErrorSink:    n.cfg.ErrorSink,
		MaxFrameSize: n.cfg.MaxFrameSize,
		RateLimit:    n.cfg.RateLimit,
		RateBurst:    n.cfg.RateBurst,
		OnConnect:    n.cfg.OnConnect,
		OnDisconnect: n.cfg.OnDisconnect,
	})
	if err := tcpManager.Start(); err != nil {
		return err
	}

	udpListener := udp.NewListener(n.cfg.Host, n.cfg.UDPPort, udp.Options{
		Logger:     n.logger,
		Registry:   n.registry,
		ErrorSink:  n.cfg.ErrorSink,
		BufferSize: n.cfg.UDPBufferSize,
		Locator:    tcpManager,
		OnPacket:   n.cfg.OnPacket,
	})
	if err := udpListener.Start(); err != nil {
		if stopErr := tcpManager.Stop(); stopErr != nil {
			n.logger.Error("failed_to_roll_back_tcp_start", "error", stopErr.Error())
		}
		return err
	}

	n.tcp = tcpManager
	n.udp = udpListener
	n.state = lifecycle.Started
	n.logger.Info("network_started",
		"tcp_addr", tcpManager.Addr().String(),
		"udp_addr", udpListener.Addr().String(),
	)
	return nil
}

// Stop stops UDP then TCP
func (n *Network) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.state.CanStop(component); err != nil {
		return err
	}
	n.state = lifecycle.Stopped

	err := errors.Join(n.udp.Stop(), n.tcp.Stop())
	n.logger.Info("network_stopped")
	return err
}

// TCP returns the TCP manager, a lifecycle error before Start succeeded
func (n *Network) TCP() (*tcp.Manager, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.tcp == nil {
		return nil, neterr.Lifecycle("tcp manager is not initialized, call Start first")
	}
	return n.tcp, nil
}

// UDP returns the UDP listener, a lifecycle error before Start succeeded
func (n *Network) UDP() (*udp.Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.udp == nil {
		return nil, neterr.Lifecycle("udp listener is not initialized, call Start first")
	}
	return n.udp, nil
}

// Registry is shared by both transports and usable before Start, so
// handlers can be in place before the first frame arrives
func (n *Network) Registry() *events.Registry {
	return n.registry
}

func (n *Network) State() lifecycle.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}
