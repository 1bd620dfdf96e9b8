//go:build linux

package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
)

func newTestExecutor(run runFunc) *PlayerctlExecutor {
	return &PlayerctlExecutor{
		logger: zap.NewNop(),
		binary: "/usr/bin/playerctl",
		run:    run,
	}
}

func TestInvoke_RunsSubcommand(t *testing.T) {
	tests := []struct {
		cmd  domain.Command
		want string
	}{
		{domain.CommandPlayPause, "/usr/bin/playerctl play-pause"},
		{domain.CommandNextTrack, "/usr/bin/playerctl next"},
		{domain.CommandPreviousTrack, "/usr/bin/playerctl previous"},
	}

	for _, tt := range tests {
		t.Run(string(tt.cmd), func(t *testing.T) {
			var got string
			e := newTestExecutor(func(_ context.Context, name string, args ...string) ([]byte, error) {
				got = strings.Join(append([]string{name}, args...), " ")
				return nil, nil
			})

			if err := e.Invoke(context.Background(), tt.cmd); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestInvoke_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     domain.Command
		output  string
		runErr  error
		wantErr error
	}{
		{"No players", domain.CommandNextTrack, "No players found\n", errors.New("exit status 1"), domain.ErrNoMedia},
		{"Unknown command", domain.Command("SHUFFLE"), "", nil, domain.ErrUnknownCommand},
		{"Other failure", domain.CommandPlayPause, "Could not execute command: GDBus.Error", errors.New("exit status 1"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			e := newTestExecutor(func(context.Context, string, ...string) ([]byte, error) {
				called = true
				return []byte(tt.output), tt.runErr
			})

			err := e.Invoke(context.Background(), tt.cmd)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && (errors.Is(err, domain.ErrNoMedia) || !strings.Contains(err.Error(), "GDBus.Error")) {
				t.Errorf("expected wrapped output in error, got %v", err)
			}
			if tt.cmd == "SHUFFLE" && called {
				t.Error("playerctl should not run for an unknown command")
			}
		})
	}
}
