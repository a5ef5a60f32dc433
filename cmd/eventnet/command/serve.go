package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventnet/internal/admin"
	"eventnet/internal/config"
	"eventnet/internal/metrics"
	"eventnet/internal/microservices/tcp"
	udp "eventnet/internal/microservices/udp-server"
	"eventnet/internal/neterr"
	"eventnet/internal/network"
	"eventnet/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// serveCmd runs the network facade plus the optional admin API and presence mirror
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TCP and UDP event server",
	Long: `Start the TCP connection manager and UDP listener on NET_HOST:TCP_PORT and
NET_HOST:UDP_PORT.

When ADMIN_PORT is set the admin HTTP API is served on it, protected by
ADMIN_JWT_SECRET when one is configured. When REDIS_URL is set connected clients
are mirrored into Redis.

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(envFile)
		if err != nil {
			return err
		}

		logger := cfg.NewLogger(os.Stdout)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var store *presence.RedisStore
	if cfg.PresenceEnabled() {
		s, err := presence.NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.PresenceTTL, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Clear(ctx); err != nil {
			logger.Warn("failed_to_clear_presence", "error", err.Error())
		}
		store = s
	}

	collector := metrics.New()
	stream := admin.NewStream(logger)
	defer stream.Close()
	trackConnect, trackDisconnect := store.Hooks()

	netCfg := cfg.Network()
	netCfg.Logger = logger
	netCfg.ErrorSink = neterr.Fanout(collector.Report, func(err error) {
		logger.Debug("network_error", "category", neterr.Category(err), "error", err.Error())
	})
	netCfg.OnConnect = tcp.Chain(collector.OnConnect, trackConnect, stream.OnConnect)
	netCfg.OnDisconnect = tcp.Chain(collector.OnDisconnect, trackDisconnect, stream.OnDisconnect)
	netCfg.OnPacket = func(p udp.Packet) {
		collector.OnPacket(p)
		logger.Debug("datagram_received",
			"remote_addr", p.From.String(),
			"event_id", p.EventID,
			"size", p.Size,
		)
	}

	n, err := network.New(netCfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		return err
	}
	tcpManager, err := n.TCP()
	if err != nil {
		return err
	}

	var adminServer *admin.Server
	if cfg.AdminEnabled() {
		adminServer, err = startAdmin(cfg, admin.NewHandler(tcpManager, n.Registry(), logger), admin.RouterOptions{
			Stream:  stream,
			Metrics: collector.Handler(),
		}, logger)
		if err != nil {
			n.Stop()
			return err
		}
	}

	<-ctx.Done()
	logger.Info("received_shutdown_signal")

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin_shutdown_failed", "error", err.Error())
		}
	}
	if err := n.Stop(); err != nil {
		return fmt.Errorf("stop network: %w", err)
	}
	logger.Info("server_stopped_gracefully")
	return nil
}

func startAdmin(cfg *config.Config, h *admin.Handler, opts admin.RouterOptions, logger *slog.Logger) (*admin.Server, error) {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.AdminJWTSecret != "" {
		opts.Tokens = admin.NewTokenService(cfg.AdminJWTSecret)
	} else {
		logger.Warn("admin_api_unauthenticated", "port", cfg.AdminPort)
	}

	server := admin.NewServer(cfg.Host, cfg.AdminPort, admin.NewRouter(h, opts), logger)
	if err := server.Start(); err != nil {
		return nil, err
	}
	return server, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
