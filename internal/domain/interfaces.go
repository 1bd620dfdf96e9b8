package domain

import (
	"context"
	"time"
)

// Sampler reports what is currently playing on this machine.
// Implementations return ErrNoMedia when no media source is active.
type Sampler interface {
	// Sample takes a fresh snapshot of the active media session
	Sample(ctx context.Context) (PlaybackSnapshot, error)
}

// Controller executes transport controls on the local media player
type Controller interface {
	// Invoke applies cmd to the active media session
	Invoke(ctx context.Context, cmd Command) error
}

// Transmitter delivers snapshots to the remote hub
type Transmitter interface {
	// Send writes a single state frame. It fails when no connection is open.
	Send(ctx context.Context, snapshot PlaybackSnapshot) error
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config defines the interface for application configuration
type Config interface {
	// GetHubURL returns the WebSocket URL of the hub the daemon connects to
	GetHubURL() string

	// GetListenAddr returns the address the hub listens on
	GetListenAddr() string

	// GetControlBackend returns the transport-control backend ("mpris" or "playerctl")
	GetControlBackend() string

	// GetSampleInterval returns how often the media source is sampled
	GetSampleInterval() time.Duration

	// GetKeepaliveInterval returns how often the daemon probes its connection
	GetKeepaliveInterval() time.Duration

	// GetPingInterval returns how often the hub pings each session
	GetPingInterval() time.Duration

	// GetIdleTimeout returns how long the hub waits for traffic after a ping
	GetIdleTimeout() time.Duration
}
