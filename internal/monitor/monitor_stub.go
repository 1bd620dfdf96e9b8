//go:build !linux
// +build !linux

package monitor

import (
	"context"
	"fmt"

	"github.com/genricoloni/nowplayer/internal/domain"
	"go.uber.org/zap"
)

// MprisMonitor stub for non-Linux platforms
type MprisMonitor struct {
	logger *zap.Logger
}

// NewMprisMonitor creates a stub monitor that returns an error on non-Linux platforms
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return &MprisMonitor{logger: logger}
}

// Start returns an error indicating MPRIS monitoring is not supported on this platform
func (m *MprisMonitor) Start(ctx context.Context) error {
	return fmt.Errorf("MPRIS monitoring is only supported on Linux systems")
}

// Changes returns a closed channel since monitoring is not available
func (m *MprisMonitor) Changes() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Sample always reports that no media is available
func (m *MprisMonitor) Sample(ctx context.Context) (domain.PlaybackSnapshot, error) {
	return domain.PlaybackSnapshot{}, fmt.Errorf("%w: MPRIS is unavailable on this platform", domain.ErrNoMedia)
}

// Invoke always reports that no media is available
func (m *MprisMonitor) Invoke(ctx context.Context, cmd domain.Command) error {
	return fmt.Errorf("%w: MPRIS is unavailable on this platform", domain.ErrNoMedia)
}

// Stop is a no-op on non-Linux platforms
func (m *MprisMonitor) Stop(ctx context.Context) error {
	return nil
}
