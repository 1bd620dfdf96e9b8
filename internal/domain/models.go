package domain

import (
	"errors"
	"fmt"
)

// PositionTolerance is the position drift, in milliseconds, within which two
// otherwise identical snapshots are considered unchanged.
const PositionTolerance int64 = 2000

var (
	// ErrNoMedia is returned by a Sampler when no media source is active.
	// It is an idle state, not a failure.
	ErrNoMedia = errors.New("no active media session")

	// ErrUnknownCommand is returned when a command frame is not in the known set
	ErrUnknownCommand = errors.New("unknown command")
)

// Artwork is an opaque reference to the album art of a track.
// Data is passed through unchanged, it is never decoded.
type Artwork struct {
	// URL is where the media source says the artwork lives (may be empty)
	URL string
	// Data is the raw image blob (may be empty)
	Data []byte
}

// PlaybackSnapshot describes one observed state of playback.
// A new snapshot is built on every sample and never mutated afterwards.
type PlaybackSnapshot struct {
	// Title of the current track
	Title string
	// Artist name
	Artist string
	// Album name
	Album string
	// Artwork of the current track
	Artwork Artwork
	// IsPlaying is true while playback is running
	IsPlaying bool
	// PositionMs is the playback position in milliseconds
	PositionMs int64
	// DurationMs is the track length in milliseconds (0 when unknown)
	DurationMs int64
	// CapturedAtMs is the epoch time in milliseconds the snapshot was taken at (0 when absent)
	CapturedAtMs int64
}

// Equivalent reports whether s and other describe the same playback state,
// tolerating position drift below PositionTolerance. Duration, capture time
// and artwork do not take part in the comparison.
func (s PlaybackSnapshot) Equivalent(other *PlaybackSnapshot) bool {
	if other == nil {
		return false
	}
	if s.Title != other.Title || s.Artist != other.Artist || s.Album != other.Album {
		return false
	}
	if s.IsPlaying != other.IsPlaying {
		return false
	}
	delta := s.PositionMs - other.PositionMs
	if delta < 0 {
		delta = -delta
	}
	return delta < PositionTolerance
}

// Command is a transport-control instruction sent from the hub to the desktop
type Command string

const (
	// CommandPlayPause toggles between playing and paused
	CommandPlayPause Command = "PLAY_PAUSE"
	// CommandNextTrack skips to the next track
	CommandNextTrack Command = "NEXT_TRACK"
	// CommandPreviousTrack goes back to the previous track
	CommandPreviousTrack Command = "PREVIOUS_TRACK"
)

// ParseCommand maps a raw command frame to a Command. The match is exact.
func ParseCommand(raw string) (Command, error) {
	switch cmd := Command(raw); cmd {
	case CommandPlayPause, CommandNextTrack, CommandPreviousTrack:
		return cmd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, raw)
	}
}

// ConnectionState is the state of the desktop's outbound connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateBackoff
	// StateCancelled is terminal
	StateCancelled
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateBackoff:
		return "Backoff"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}
