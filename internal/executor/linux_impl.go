//go:build linux
// +build linux

package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
)

const playerctlBinary = "playerctl"

// playerctlArgs maps commands onto playerctl subcommands
var playerctlArgs = map[domain.Command][]string{
	domain.CommandPlayPause:     {"play-pause"},
	domain.CommandNextTrack:     {"next"},
	domain.CommandPreviousTrack: {"previous"},
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// PlayerctlExecutor controls the active player by shelling out to playerctl
type PlayerctlExecutor struct {
	logger *zap.Logger
	binary string
	run    runFunc
}

// NewExecutor creates a playerctl-backed controller (Linux implementation)
func NewExecutor(logger *zap.Logger) (*PlayerctlExecutor, error) {
	binary, err := exec.LookPath(playerctlBinary)
	if err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", playerctlBinary, err)
	}

	logger.Info("Player controller detected", zap.String("binary", binary))

	return &PlayerctlExecutor{
		logger: logger,
		binary: binary,
		run:    combinedOutput,
	}, nil
}

// Invoke runs the playerctl subcommand matching cmd
func (e *PlayerctlExecutor) Invoke(ctx context.Context, cmd domain.Command) error {
	args, ok := playerctlArgs[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, string(cmd))
	}

	e.logger.Debug("Running player command",
		zap.String("command", e.binary),
		zap.Strings("args", args))

	output, err := e.run(ctx, e.binary, args...)
	if err != nil {
		out := strings.TrimSpace(string(output))
		if strings.Contains(out, "No players found") {
			return fmt.Errorf("%w: %s", domain.ErrNoMedia, out)
		}
		return fmt.Errorf("failed to run %s %s: %w (output: %s)",
			playerctlBinary, strings.Join(args, " "), err, out)
	}

	return nil
}

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
