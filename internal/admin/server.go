package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"eventnet/internal/neterr"

	"github.com/gin-gonic/gin"
)

type RouterOptions struct {
	Tokens  *TokenService // nil leaves every route open
	Stream  *Stream       // serves /api/v1/stream when set
	Metrics http.Handler  // serves /metrics when set
}

// NewRouter builds the /api/v1 routes. With tokens configured everything
// except /health and /metrics needs a bearer token.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.logger))

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)

	protected := api.Group("")
	if opts.Tokens != nil {
		protected.Use(AuthMiddleware(opts.Tokens))
	}
	h.RegisterRoutes(protected)
	if opts.Stream != nil {
		protected.GET("/stream", opts.Stream.Handle)
	}

	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Server serves the admin router over HTTP
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	listener   net.Listener
	done       chan struct{}
}

func NewServer(host string, port int, router http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if host == "localhost" {
		host = ""
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "admin"),
	}
}

// Start binds the port and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return neterr.Socket("listen on "+s.httpServer.Addr, err)
	}
	s.listener = listener
	s.done = make(chan struct{})
	s.logger.Info("admin_server_started", "addr", listener.Addr().String())

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin_server_failed", "error", err.Error())
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	<-s.done
	s.logger.Info("admin_server_stopped")
	return err
}
