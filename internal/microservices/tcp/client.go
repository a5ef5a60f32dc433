package tcp

import (
	"net"
	"strconv"
	"time"
)

// Client is the server-side record of one live TCP connection.
// Values handed out by the manager are copies.
type Client struct {
	ID          string    // uuid assigned at accept time, never reused
	IP          string    // peer ip
	Port        int       // peer port
	ConnectedAt time.Time // accept time
}

// Addr returns the peer address as host:port
func (c Client) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// ListenAddress turns a configured host and port into a bind address.
// "localhost" binds every interface.
func ListenAddress(host string, port int) string {
	if host == "localhost" {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func peerOf(addr net.Addr) (string, int) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), tcpAddr.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

// Chain combines client callbacks into one that calls each non-nil fn in order
func Chain(fns ...func(Client)) func(Client) {
	return func(c Client) {
		for _, fn := range fns {
			if fn != nil {
				fn(c)
			}
		}
	}
}
