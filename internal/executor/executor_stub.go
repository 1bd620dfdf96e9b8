//go:build !linux
// +build !linux

package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
)

// StubExecutor is a placeholder for platforms without playerctl
type StubExecutor struct {
	logger *zap.Logger
}

// NewExecutor reports that playerctl control is unavailable on this platform
func NewExecutor(logger *zap.Logger) (*StubExecutor, error) {
	return nil, fmt.Errorf("playerctl control is only supported on Linux systems")
}

// Invoke returns an error indicating the platform is not supported
func (e *StubExecutor) Invoke(ctx context.Context, cmd domain.Command) error {
	return fmt.Errorf("player control not implemented for this platform")
}
