// Package protocol implements the text frames exchanged between the hub and
// the desktop daemon. State frames are JSON objects, command frames are the
// bare command name.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/genricoloni/nowplayer/internal/domain"
)

// ErrMalformedState is wrapped by every DecodeState failure
var ErrMalformedState = errors.New("malformed state frame")

// stateFrame is the JSON shape of a state frame. Pointer fields let the
// decoder tell a missing key from a zero value.
type stateFrame struct {
	Title          *string `json:"title"`
	Artist         *string `json:"artist"`
	Album          *string `json:"album"`
	AlbumArtURL    string  `json:"albumArtUrl,omitempty"`
	AlbumArtBase64 string  `json:"albumArtBase64"`
	IsPlaying      *bool   `json:"isPlaying"`
	Position       *int64  `json:"position"`
	Duration       *int64  `json:"duration"`
	Timestamp      *int64  `json:"timestamp,omitempty"`
}

// EncodeState serializes a snapshot into a state frame payload
func EncodeState(s domain.PlaybackSnapshot) ([]byte, error) {
	frame := stateFrame{
		Title:          &s.Title,
		Artist:         &s.Artist,
		Album:          &s.Album,
		AlbumArtURL:    s.Artwork.URL,
		AlbumArtBase64: base64.StdEncoding.EncodeToString(s.Artwork.Data),
		IsPlaying:      &s.IsPlaying,
		Position:       &s.PositionMs,
		Duration:       &s.DurationMs,
	}
	if s.CapturedAtMs != 0 {
		frame.Timestamp = &s.CapturedAtMs
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state frame: %w", err)
	}
	return data, nil
}

// DecodeState parses a state frame payload. Unknown keys are ignored.
func DecodeState(data []byte) (domain.PlaybackSnapshot, error) {
	var frame stateFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return domain.PlaybackSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	if missing := frame.missingKey(); missing != "" {
		return domain.PlaybackSnapshot{}, fmt.Errorf("%w: missing %q", ErrMalformedState, missing)
	}

	var art []byte
	if frame.AlbumArtBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(frame.AlbumArtBase64)
		if err != nil {
			return domain.PlaybackSnapshot{}, fmt.Errorf("%w: albumArtBase64: %v", ErrMalformedState, err)
		}
		art = decoded
	}

	s := domain.PlaybackSnapshot{
		Title:      *frame.Title,
		Artist:     *frame.Artist,
		Album:      *frame.Album,
		Artwork:    domain.Artwork{URL: frame.AlbumArtURL, Data: art},
		IsPlaying:  *frame.IsPlaying,
		PositionMs: max(*frame.Position, 0),
		DurationMs: max(*frame.Duration, 0),
	}
	if frame.Timestamp != nil {
		s.CapturedAtMs = *frame.Timestamp
	}
	return s, nil
}

// missingKey names the first required key absent from the frame.
// albumArtBase64 may be omitted and decodes as no artwork.
func (f *stateFrame) missingKey() string {
	switch {
	case f.Title == nil:
		return "title"
	case f.Artist == nil:
		return "artist"
	case f.Album == nil:
		return "album"
	case f.IsPlaying == nil:
		return "isPlaying"
	case f.Position == nil:
		return "position"
	case f.Duration == nil:
		return "duration"
	}
	return ""
}

// EncodeCommand returns the payload of a command frame
func EncodeCommand(cmd domain.Command) []byte {
	return []byte(cmd)
}
