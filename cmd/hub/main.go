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
	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/config"
	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/hub"
	"github.com/genricoloni/nowplayer/internal/nowplaying"
	"github.com/genricoloni/nowplayer/internal/position"
)

// AppOptions wires the hub: the WebSocket server, its session registry and
// the latest-state store shared with the local API.
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		clock.New,
		hub.NewRegistry,
		nowplaying.NewStore,
		position.NewExtrapolator,
		hub.NewServer,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "nowplayer-hub: startup failed: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nowplayer-hub: shutdown failed: %v\n", err)
		os.Exit(1)
	}
}

// newLogger creates a new zap logger instance
func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func registerHooks(lc fx.Lifecycle, logger *zap.Logger, srv *hub.Server, ext *position.Extrapolator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.Info("nowplayer hub started", zap.String("status", srv.Status()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			err := srv.Stop(ctx)
			ext.Stop()
			return err
		},
	})
}
