package tcp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"eventnet/internal/neterr"
	"eventnet/internal/protocol"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type connection struct {
	info   Client
	conn   net.Conn
	writer *bufio.Writer
	wmu    sync.Mutex    // serializes frames written by concurrent senders
	limit  *rate.Limiter // nil when inbound rate limiting is off

	closeOnce sync.Once
}

// constructor for connection
func newConnection(conn net.Conn, limit rate.Limit, burst int) *connection {
	ip, port := peerOf(conn.RemoteAddr())
	c := &connection{
		info: Client{
			ID:          uuid.NewString(),
			IP:          ip,
			Port:        port,
			ConnectedAt: time.Now(),
		},
		conn:   conn,
		writer: bufio.NewWriter(conn),
	}
	if limit > 0 {
		// the limiter auto depletes tokens when Allow is called and refills over time
		c.limit = rate.NewLimiter(limit, burst)
	}
	return c
}

// send writes one complete frame and flushes it
func (c *connection) send(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.writer.Write(frame); err != nil {
		return neterr.Socket("write", err)
	}
	if err := c.writer.Flush(); err != nil {
		return neterr.Socket("flush", err)
	}
	return nil
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// listen is the receive task of one client: it reads frames until the
// connection fails, feeds them to the registry and then runs the disconnect path
func (m *Manager) listen(c *connection) {
	defer m.disconnect(c)

	reader := bufio.NewReader(c.conn)
	m.logger.Info("client_started_listening",
		"client_id", c.info.ID,
		"remote_addr", c.info.Addr(),
	)

	for {
		frame, err := protocol.ReadFrame(reader, m.maxFrameSize)
		if err != nil {
			m.readFailed(c, err)
			return
		}

		// check rate limit
		if c.limit != nil && !c.limit.Allow() {
			m.logger.Warn("rate_limit_exceeded",
				"client_id", c.info.ID,
				"event_id", frame.EventID,
			)
			continue
		}

		if err := m.registry.Trigger(frame.EventID, frame.Payload); err != nil {
			if errors.Is(err, neterr.ErrProtocol) {
				m.logger.Warn("invalid_payload_received",
					"client_id", c.info.ID,
					"event_id", frame.EventID,
					"error", err.Error(),
				)
				m.sink.Report(fmt.Errorf("client %s: %w", c.info.ID, err))
				return
			}
			// dispatch failures were reported by the registry, keep serving
		}
	}
}

func (m *Manager) readFailed(c *connection, err error) {
	switch {
	case errors.Is(err, io.EOF):
		m.logger.Info("client_disconnected",
			"client_id", c.info.ID,
		)
	case isClosedConnError(err):
		// closed locally by Stop or Disconnect
		m.logger.Debug("client_connection_closed",
			"client_id", c.info.ID,
		)
	case errors.Is(err, neterr.ErrProtocol):
		m.logger.Warn("invalid_frame_received",
			"client_id", c.info.ID,
			"error", err.Error(),
		)
		m.sink.Report(fmt.Errorf("client %s: %w", c.info.ID, err))
	default:
		m.logger.Error("client_read_error",
			"client_id", c.info.ID,
			"error", err.Error(),
		)
		m.sink.Report(neterr.Socket("read from client "+c.info.ID, err))
	}
}

// Check for connection closed errors which are expected during shutdown
// On Windows: "wsarecv: An established connection was aborted by the software in your host machine."
//
//	"wsarecv: An existing connection was forcibly closed by the remote host."
//
// On Linux: "use of closed network connection"
func isClosedConnError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "connection was aborted") ||
		strings.Contains(msg, "forcibly closed") ||
		strings.Contains(msg, "connection reset by peer")
}
