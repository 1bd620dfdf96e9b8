package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/client"
	"github.com/genricoloni/nowplayer/internal/command"
	"github.com/genricoloni/nowplayer/internal/config"
	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/engine"
	"github.com/genricoloni/nowplayer/internal/executor"
	"github.com/genricoloni/nowplayer/internal/fetcher"
	"github.com/genricoloni/nowplayer/internal/monitor"
)

// AppOptions wires the publisher daemon: it samples the local player,
// pushes snapshots to the hub and executes the commands the hub relays.
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		clock.New,
		monitor.NewMprisMonitor,
		fx.Annotate(fetcher.NewArtworkFetcher, fx.As(new(domain.Fetcher))),
		newController,
		command.NewDispatcher,
		newClient,
		newEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nowplayer: startup failed: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nowplayer: shutdown failed: %v\n", err)
		os.Exit(1)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

// newController picks the backend that executes hub commands. playerctl
// falls back to MPRIS when the binary is missing.
func newController(cfg domain.Config, mon *monitor.MprisMonitor, logger *zap.Logger) domain.Controller {
	if cfg.GetControlBackend() == config.ControlPlayerctl {
		exec, err := executor.NewExecutor(logger)
		if err == nil {
			return exec
		}
		logger.Warn("playerctl unavailable, using MPRIS for commands", zap.Error(err))
	}
	return mon
}

func newClient(logger *zap.Logger, cfg domain.Config, dispatcher *command.Dispatcher, clk clock.Clock) *client.Client {
	return client.New(logger, cfg.GetHubURL(), dispatcher, client.Options{
		KeepaliveInterval: cfg.GetKeepaliveInterval(),
		Clock:             clk,
	})
}

func newEngine(
	logger *zap.Logger,
	cfg domain.Config,
	clk clock.Clock,
	mon *monitor.MprisMonitor,
	hub *client.Client,
	fetch domain.Fetcher,
) *engine.Engine {
	return engine.NewEngine(logger, clk, cfg.GetSampleInterval(), mon, hub, fetch)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	mon *monitor.MprisMonitor,
	hub *client.Client,
	eng *engine.Engine,
) {
	// A fresh session must see the current state even if nothing changed
	hub.Observe(func(state domain.ConnectionState) {
		if state == domain.StateConnected {
			eng.Resync()
		}
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := mon.Start(ctx); err != nil {
				return err
			}
			if err := hub.Start(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}
			logger.Info("nowplayer daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return multierr.Combine(
				eng.Stop(ctx),
				hub.Stop(ctx),
				mon.Stop(ctx),
			)
		},
	})
}
