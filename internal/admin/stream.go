package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"eventnet/internal/microservices/tcp"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second // max time to write one message to a watcher
	maxReadSize     = 512              // watchers only send control frames
	watcherQueueLen = 64
)

// StreamEvent is one client lifecycle change pushed to watchers
type StreamEvent struct {
	Type   string         `json:"type"` // "connected" or "disconnected"
	Client ClientResponse `json:"client"`
}

type watcher struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream pushes TCP client connects and disconnects to websocket watchers.
// A watcher that falls behind is dropped rather than slowing the network
// callbacks down.
type Stream struct {
	mu       sync.RWMutex
	watchers map[*watcher]bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		watchers: make(map[*watcher]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the route sits behind bearer auth, so any origin may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "admin_stream"),
	}
}

// Handle upgrades the request and registers the connection as a watcher
// GET /api/v1/stream
func (s *Stream) Handle(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an error response
		s.logger.Warn("websocket_upgrade_failed", "error", err.Error())
		return
	}

	w := &watcher{conn: conn, send: make(chan []byte, watcherQueueLen)}
	s.mu.Lock()
	s.watchers[w] = true
	s.mu.Unlock()
	s.logger.Info("watcher_added", "remote_addr", conn.RemoteAddr().String(), "subject", c.GetString("subject"))

	go s.writePump(w)
	go s.readPump(w)
}

func (s *Stream) readPump(w *watcher) {
	defer s.remove(w)

	w.conn.SetReadLimit(maxReadSize)
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writePump(w *watcher) {
	defer w.conn.Close()

	for msg := range w.send {
		w.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Stream) remove(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.watchers[w] {
		return
	}
	delete(s.watchers, w)
	close(w.send)
	s.logger.Info("watcher_removed", "remote_addr", w.conn.RemoteAddr().String())
}

// Publish sends event to every watcher without blocking
func (s *Stream) Publish(event StreamEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed_to_encode_stream_event", "error", err.Error())
		return
	}

	var slow []*watcher
	s.mu.RLock()
	for w := range s.watchers {
		select {
		case w.send <- msg:
		default:
			slow = append(slow, w)
		}
	}
	s.mu.RUnlock()

	for _, w := range slow {
		s.logger.Warn("dropping_slow_watcher", "remote_addr", w.conn.RemoteAddr().String())
		s.remove(w)
	}
}

func (s *Stream) OnConnect(c tcp.Client) {
	s.Publish(StreamEvent{Type: "connected", Client: toClientResponse(c)})
}

func (s *Stream) OnDisconnect(c tcp.Client) {
	s.Publish(StreamEvent{Type: "disconnected", Client: toClientResponse(c)})
}

// Watchers returns the number of connected watchers
func (s *Stream) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

// Close disconnects every watcher
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		delete(s.watchers, w)
		close(w.send)
	}
}
