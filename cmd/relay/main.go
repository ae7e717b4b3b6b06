// Package main is the entry point for the standalone relay hub.
//
// The hub accepts WebSocket connections at RELAY_PATH, identifies each by its
// clientId query parameter and fans every allow-listed event out to all
// connected clients. When RELAY_NATS_URL is set, relayed messages are also
// mirrored onto NATS subjects.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"streamrelay/internal/config"
	"streamrelay/internal/core"
	"streamrelay/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadRelayConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("relay hub starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"nats_mirror", cfg.Hub.NATSURL != "",
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.serve(ctx)
}

type app struct {
	cfg    *config.RelayConfig
	logger *slog.Logger
	srv    *core.Server
	hub    *relay.Hub
}

func newApp(cfg *config.RelayConfig, logger *slog.Logger) (*app, error) {
	srv, err := core.NewServer(cfg.Service, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	hubOpts := []relay.HubOption{relay.WithSendBuffer(cfg.Hub.SendBuffer)}
	var mirror *relay.NATSMirror
	if cfg.Hub.NATSURL != "" {
		mirror, err = relay.NewNATSMirror(cfg.Hub.NATSURL, cfg.Hub.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting NATS mirror: %w", err)
		}
		hubOpts = append(hubOpts, relay.WithObserver(mirror))
	}

	hub := relay.NewHub(logger, hubOpts...)
	ws := relay.NewWSHandler(hub, relay.WSConfig{
		AllowedOrigins: cfg.Hub.AllowedOrigins,
		PingInterval:   cfg.Hub.PingInterval,
		WriteTimeout:   cfg.Hub.WriteTimeout,
	}, logger)

	srv.RouteRegistrars = append(srv.RouteRegistrars, ws.RegisterRoutes(cfg.Hub.Path))
	srv.StatsReporters = append(srv.StatsReporters, hub)
	// The hub closes first so no message is observed after the mirror drains.
	srv.Closers = append(srv.Closers, hub)
	if mirror != nil {
		srv.HealthProbes = append(srv.HealthProbes, mirror)
		srv.StatsReporters = append(srv.StatsReporters, mirror)
		srv.Closers = append(srv.Closers, mirror)
	}
	srv.MountRoutes()

	return &app{cfg: cfg, logger: logger, srv: srv, hub: hub}, nil
}

func (a *app) serve(ctx context.Context) error {
	addr := ":" + a.cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", addr, "relay_path", a.cfg.Hub.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("initiating graceful shutdown")
		return a.shutdown(httpServer)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("server stopped cleanly")
	return nil
}

func (a *app) shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Closing the hub first sends every client a going-away frame; the HTTP
	// server does not track hijacked connections.
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("resource shutdown error", "error", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
