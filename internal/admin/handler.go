package admin

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"eventnet/internal/microservices/tcp"
	"eventnet/internal/neterr"

	"github.com/gin-gonic/gin"
)

// Sessions is the part of the TCP manager the admin API drives
type Sessions interface {
	Clients() []tcp.Client
	Client(clientID string) (tcp.Client, bool)
	Disconnect(clientID string) error
	SendRaw(clientID string, eventID uint32, payload []byte) error
	BroadcastRaw(eventID uint32, payload []byte) error
	BroadcastRawExcept(excludedClientID string, eventID uint32, payload []byte) error
}

// HandlerCounter reports how many handlers an event id has
type HandlerCounter interface {
	Count(eventID uint32) int
}

type BroadcastRequest struct {
	EventID    uint32 `json:"event_id"`
	PayloadHex string `json:"payload_hex"`
	Except     string `json:"except"`
}

type SendRequest struct {
	EventID    uint32 `json:"event_id"`
	PayloadHex string `json:"payload_hex"`
}

type ClientResponse struct {
	ID          string `json:"id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	ConnectedAt string `json:"connected_at"`
}

func toClientResponse(c tcp.Client) ClientResponse {
	return ClientResponse{
		ID:          c.ID,
		IP:          c.IP,
		Port:        c.Port,
		ConnectedAt: c.ConnectedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

type Handler struct {
	sessions Sessions
	handlers HandlerCounter
	logger   *slog.Logger
}

func NewHandler(sessions Sessions, handlers HandlerCounter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		handlers: handlers,
		logger:   logger.With("component", "admin"),
	}
}

// RegisterRoutes registers the admin routes on router
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/clients", h.ListClients)
	router.DELETE("/clients/:id", h.DisconnectClient)
	router.POST("/clients/:id/send", h.SendToClient)
	router.GET("/events/:id/handlers", h.HandlerCount)
	router.POST("/broadcast", h.Broadcast)
}

// Health reports liveness and the number of connected clients
// GET /api/v1/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": len(h.sessions.Clients()),
	})
}

// ListClients returns every connected client, oldest first
// GET /api/v1/clients
func (h *Handler) ListClients(c *gin.Context) {
	clients := h.sessions.Clients()
	resp := make([]ClientResponse, 0, len(clients))
	for _, client := range clients {
		resp = append(resp, toClientResponse(client))
	}
	c.JSON(http.StatusOK, gin.H{"clients": resp, "count": len(resp)})
}

// DisconnectClient closes one client's connection
// DELETE /api/v1/clients/:id
func (h *Handler) DisconnectClient(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.sessions.Client(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}
	if err := h.sessions.Disconnect(id); err != nil {
		h.fail(c, "disconnect", err)
		return
	}
	h.logger.Info("client_disconnected_by_admin", "client_id", id, "subject", c.GetString("subject"))
	c.Status(http.StatusNoContent)
}

// SendToClient writes one raw frame to a client
// POST /api/v1/clients/:id/send
func (h *Handler) SendToClient(c *gin.Context) {
	id := c.Param("id")

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload_hex is not valid hex"})
		return
	}
	if _, ok := h.sessions.Client(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
		return
	}

	if err := h.sessions.SendRaw(id, req.EventID, payload); err != nil {
		h.fail(c, "send", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"client_id": id, "event_id": req.EventID, "bytes": len(payload)})
}

// Broadcast writes one raw frame to every client, optionally skipping one
// POST /api/v1/broadcast
func (h *Handler) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := hex.DecodeString(req.PayloadHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload_hex is not valid hex"})
		return
	}

	if req.Except != "" {
		err = h.sessions.BroadcastRawExcept(req.Except, req.EventID, payload)
	} else {
		err = h.sessions.BroadcastRaw(req.EventID, payload)
	}
	if err != nil {
		h.fail(c, "broadcast", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event_id": req.EventID, "bytes": len(payload)})
}

// HandlerCount returns how many handlers are registered for an event id
// GET /api/v1/events/:id/handlers
func (h *Handler) HandlerCount(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": id, "handlers": h.handlers.Count(uint32(id))})
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Warn("admin_request_failed", "op", op, "error", err.Error())

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, neterr.ErrLifecycle):
		status = http.StatusServiceUnavailable
	case errors.Is(err, neterr.ErrProtocol):
		status = http.StatusBadRequest
	case errors.Is(err, neterr.ErrSocket):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
