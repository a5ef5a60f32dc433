package tcp

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"eventnet/internal/neterr"
	"eventnet/internal/protocol"
)

// SendTo serializes event through the registry and writes one frame to the
// given client. Unknown clients and write failures are socket errors.
func (m *Manager) SendTo(clientID string, eventID uint32, event any) error {
	payload, err := m.registry.Serialize(eventID, event)
	if err != nil {
		return err
	}
	return m.SendRaw(clientID, eventID, payload)
}

// SendRaw frames an already encoded payload and writes it to one client
func (m *Manager) SendRaw(clientID string, eventID uint32, payload []byte) error {
	m.mu.RLock()
	state := m.state
	c, ok := m.clients[clientID]
	m.mu.RUnlock()

	if err := state.Require(component, "send"); err != nil {
		return err
	}
	if !ok {
		return neterr.Socket(fmt.Sprintf("unknown client %q", clientID), nil)
	}
	if err := c.send(protocol.Encode(eventID, payload)); err != nil {
		m.logger.Warn("failed_to_send",
			"client_id", clientID,
			"event_id", eventID,
			"error", err.Error(),
		)
		return fmt.Errorf("client %s: %w", clientID, err)
	}
	return nil
}

// Broadcast serializes event once and writes it to every connected client.
// A failed write does not stop the others; each failure is reported and all
// of them are joined into the returned error.
func (m *Manager) Broadcast(eventID uint32, event any) error {
	return m.BroadcastExcept("", eventID, event)
}

// BroadcastExcept is Broadcast skipping excludedClientID
func (m *Manager) BroadcastExcept(excludedClientID string, eventID uint32, event any) error {
	payload, err := m.registry.Serialize(eventID, event)
	if err != nil {
		return err
	}
	return m.BroadcastRawExcept(excludedClientID, eventID, payload)
}

// BroadcastRaw writes an already encoded payload to every connected client
func (m *Manager) BroadcastRaw(eventID uint32, payload []byte) error {
	return m.BroadcastRawExcept("", eventID, payload)
}

// BroadcastRawExcept writes an already encoded payload to every connected
// client but excludedClientID
func (m *Manager) BroadcastRawExcept(excludedClientID string, eventID uint32, payload []byte) error {
	targets, err := m.snapshot("broadcast")
	if err != nil {
		return err
	}

	frame := protocol.Encode(eventID, payload)
	var errs []error
	for _, c := range targets {
		if c.info.ID == excludedClientID {
			continue
		}
		if err := c.send(frame); err != nil {
			err = fmt.Errorf("client %s: %w", c.info.ID, err)
			m.logger.Warn("failed_to_send_broadcast",
				"client_id", c.info.ID,
				"event_id", eventID,
				"error", err.Error(),
			)
			m.sink.Report(err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshot copies the live connections so writes happen outside the lock
func (m *Manager) snapshot(op string) ([]*connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.state.Require(component, op); err != nil {
		return nil, err
	}
	conns := make([]*connection, 0, len(m.clients))
	for _, c := range m.clients {
		conns = append(conns, c)
	}
	return conns, nil
}

// Disconnect closes one client's socket. Its receive task then removes it
// from the registry and fires OnDisconnect.
func (m *Manager) Disconnect(clientID string) error {
	m.mu.RLock()
	state := m.state
	c, ok := m.clients[clientID]
	m.mu.RUnlock()

	if err := state.Require(component, "disconnect"); err != nil {
		return err
	}
	if !ok {
		return neterr.Socket(fmt.Sprintf("unknown client %q", clientID), nil)
	}
	c.close()
	return nil
}

// Clients returns a copy of every live client, oldest first
func (m *Manager) Clients() []Client {
	m.mu.RLock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c.info)
	}
	m.mu.RUnlock()

	slices.SortFunc(clients, func(a, b Client) int {
		if n := a.ConnectedAt.Compare(b.ConnectedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return clients
}

// Client returns a copy of one live client
func (m *Manager) Client(clientID string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[clientID]
	if !ok {
		return Client{}, false
	}
	return c.info, true
}

// ClientCount returns the number of live clients
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// LookupClient finds the TCP client a datagram sender belongs to: the client
// with the same ip and port, else the only client on that ip. Several clients
// behind one ip with no port match is ambiguous and reports false.
func (m *Manager) LookupClient(addr *net.UDPAddr) (Client, bool) {
	if addr == nil {
		return Client{}, false
	}
	ip := addr.IP.String()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		match   Client
		matches int
	)
	for _, c := range m.clients {
		if c.info.IP != ip {
			continue
		}
		if c.info.Port == addr.Port {
			return c.info, true
		}
		match = c.info
		matches++
	}
	if matches == 1 {
		return match, true
	}
	return Client{}, false
}
