// Package main is the entry point for the EventSub webhook process.
//
// It verifies inbound Twitch EventSub deliveries, hands notifications to the
// alert engine and publishes resulting streamAlert events to the relay hub,
// either over a WebSocket connection (RELAY_URL) or through a hub embedded in
// this process (RELAY_EMBEDDED=true).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
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

	"streamrelay/internal/alert"
	"streamrelay/internal/config"
	"streamrelay/internal/core"
	"streamrelay/internal/eventsub"
	"streamrelay/internal/helix"
	"streamrelay/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadEventSubConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("eventsub starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"embedded_relay", cfg.Relay.Embedded,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.serve(ctx)
}

// app holds the wired components of the eventsub process.
type app struct {
	cfg    *config.EventSubConfig
	logger *slog.Logger

	srv         *core.Server
	handler     *eventsub.Handler
	engine      *alert.Engine
	relayClient *relay.Client
	hub         *relay.Hub
}

// newApp wires every component and mounts the routes.
func newApp(cfg *config.EventSubConfig, logger *slog.Logger) (*app, error) {
	srv, err := core.NewServer(cfg.Service, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, srv: srv}

	helixClient := helix.NewClient(helix.Config{
		ClientID:          cfg.Twitch.ClientID,
		ClientSecret:      cfg.Twitch.ClientSecret,
		BaseURL:           cfg.Twitch.APIBaseURL,
		TokenURL:          cfg.Twitch.TokenURL,
		RequestsPerSecond: cfg.Twitch.RequestsPerSecond,
		Timeout:           cfg.Twitch.Timeout,
		UserAgent:         cfg.Service + "/" + cfg.Build.Version,
	})

	publisher, err := a.wirePublisher()
	if err != nil {
		return nil, err
	}

	a.engine = alert.NewEngine(alert.EngineConfig{
		Delay:           cfg.Alert.Delay,
		Cooldown:        cfg.Alert.Cooldown,
		MaxEntryAge:     cfg.Alert.MaxEntryAge,
		SweepInterval:   cfg.Alert.SweepInterval,
		FetchTimeout:    cfg.Alert.FetchTimeout,
		DrainOnShutdown: cfg.Alert.DrainOnShutdown,
	}, helixClient, publisher, cfg, logger)

	var opts []eventsub.Option
	if cfg.EventSub.Resubscribe {
		opts = append(opts, eventsub.WithResubscriber(helixClient, eventsub.DefaultResubscribePolicy()))
	}
	a.handler = eventsub.NewHandler(eventsub.HandlerConfig{
		Secret:        cfg.EventSub.Secret,
		CallbackURL:   cfg.EventSub.CallbackURL,
		MaxMessageAge: cfg.EventSub.MaxMessageAge,
	}, a.engine, logger, opts...)

	srv.RouteRegistrars = append(srv.RouteRegistrars, a.handler.RegisterRoutes(cfg.EventSub.Path))
	srv.StatsReporters = append(srv.StatsReporters, a.handler, a.engine)
	srv.MountRoutes()
	return a, nil
}

// wirePublisher returns the relay publisher for the alert engine: a local
// hub connection in embedded mode, a WebSocket client otherwise.
func (a *app) wirePublisher() (alert.Publisher, error) {
	cfg := a.cfg
	if cfg.Relay.Embedded {
		a.hub = relay.NewHub(a.logger, relay.WithSendBuffer(cfg.Hub.SendBuffer))
		ws := relay.NewWSHandler(a.hub, relay.WSConfig{
			AllowedOrigins: cfg.Hub.AllowedOrigins,
			PingInterval:   cfg.Hub.PingInterval,
			WriteTimeout:   cfg.Hub.WriteTimeout,
		}, a.logger)
		local := relay.NewLocalPublisher(a.hub, cfg.Relay.ClientID)

		a.srv.RouteRegistrars = append(a.srv.RouteRegistrars, ws.RegisterRoutes(cfg.Hub.Path))
		a.srv.StatsReporters = append(a.srv.StatsReporters, a.hub)
		a.srv.Closers = append(a.srv.Closers, local, a.hub)
		return local, nil
	}

	client, err := relay.NewClient(relay.ClientConfig{
		URL:      cfg.Relay.URL,
		ClientID: cfg.Relay.ClientID,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating relay client: %w", err)
	}
	a.relayClient = client
	a.srv.HealthProbes = append(a.srv.HealthProbes, core.ProbeFunc{
		ProbeName: "relay",
		Fn: func(context.Context) error {
			if !client.Connected() {
				return errors.New("relay connection is not open")
			}
			return nil
		},
	})
	a.srv.Closers = append(a.srv.Closers, client)
	return client, nil
}

// serve runs the HTTP server and background loops until ctx is cancelled or
// one of them fails, then shuts everything down in dependency order.
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
		a.logger.Info("HTTP server listening", "addr", addr, "webhook_path", a.cfg.EventSub.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.engine.Run(gctx)
	})

	if a.relayClient != nil {
		g.Go(func() error {
			return a.relayClient.Run(gctx)
		})
	}

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

	if err := httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := a.handler.Wait(ctx); err != nil {
		a.logger.Warn("re-subscriptions still running at shutdown", "error", err)
	}
	if err := a.engine.Shutdown(ctx); err != nil {
		a.logger.Warn("alert engine shutdown incomplete", "error", err)
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
