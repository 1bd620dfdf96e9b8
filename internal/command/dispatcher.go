package command

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/genricoloni/nowplayer/internal/domain"
)

// Dispatcher turns inbound command frames into invocations on the local
// media player. Nothing is reported back to the sender.
type Dispatcher struct {
	logger     *zap.Logger
	controller domain.Controller
	unknown    rate.Sometimes
}

// NewDispatcher creates a dispatcher bound to controller
func NewDispatcher(logger *zap.Logger, controller domain.Controller) *Dispatcher {
	return &Dispatcher{
		logger:     logger,
		controller: controller,
		unknown:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Dispatch handles one command frame payload
func (d *Dispatcher) Dispatch(ctx context.Context, payload string) {
	cmd, err := domain.ParseCommand(payload)
	if err != nil {
		d.logger.Debug("Ignoring command frame", zap.String("payload", payload))
		d.unknown.Do(func() {
			d.logger.Warn("Unknown command received, ignoring", zap.String("payload", payload))
		})
		return
	}

	d.logger.Info("Command received", zap.String("command", string(cmd)))

	if err := d.controller.Invoke(ctx, cmd); err != nil {
		if errors.Is(err, domain.ErrNoMedia) {
			d.logger.Warn("No active media session to control", zap.String("command", string(cmd)))
			return
		}
		d.logger.Error("Failed to execute command",
			zap.String("command", string(cmd)),
			zap.Error(err))
	}
}
