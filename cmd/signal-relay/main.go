package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/rtcmesh/signal-relay/internal/auth"
	"github.com/rtcmesh/signal-relay/internal/config"
	"github.com/rtcmesh/signal-relay/internal/httpserver"
	"github.com/rtcmesh/signal-relay/internal/metrics"
	"github.com/rtcmesh/signal-relay/internal/ratelimit"
	"github.com/rtcmesh/signal-relay/internal/room"
	"github.com/rtcmesh/signal-relay/internal/signaling"
	"github.com/rtcmesh/signal-relay/internal/token"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"auth_required", cfg.AuthRequired,
		"auth_mode", cfg.AuthMode,
		"room_capacity", cfg.RoomCapacity,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"max_conns_per_ip", cfg.MaxConnsPerIP,
		"heartbeat_interval", cfg.HeartbeatInterval,
	)
	if !cfg.AuthRequired {
		logger.Warn("authentication disabled, any client may join rooms as authenticated")
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	clock := ratelimit.RealClock{}
	m := metrics.New()

	tokens := token.NewStore(clock, logger, cfg.MaxTokens, cfg.TokenTTL)
	connLimiter := ratelimit.NewConnLimiter(clock, cfg.MaxConnsPerIP, cfg.RateWindow)

	registry := room.NewRegistry()
	router := signaling.NewRouter(registry, logger, m, clock, cfg.RoomCapacity)

	var jwtVerifier *auth.JWTVerifier
	if cfg.AuthMode == config.AuthModeJWT {
		jwtVerifier = auth.NewJWTVerifier(cfg.JWTSecret)
	}

	wsSrv := signaling.NewServer(signaling.ServerConfig{
		Logger:            logger,
		Metrics:           m,
		Router:            router,
		Tokens:            tokens,
		JWT:               jwtVerifier,
		AuthRequired:      cfg.AuthRequired,
		AuthMode:          cfg.AuthMode,
		ConnLimiter:       connLimiter,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MaxMessagesPerSecond,
		AllowedOrigins:    cfg.AllowedOrigins,
		Clock:             clock,
	})

	srv := httpserver.New(cfg, logger, resolveBuildInfo(buildCommit, buildTime))
	api := signaling.NewAPI(wsSrv, router, tokens, cfg.AuthKey, m)
	api.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := signaling.NewSupervisor(router, cfg.HeartbeatInterval, logger, m)
	go supervisor.Run(ctx)
	go tokens.Run(ctx, cfg.TokenSweepInterval)
	go connLimiter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
