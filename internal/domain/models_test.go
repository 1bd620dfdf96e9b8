package domain

import (
	"errors"
	"testing"
)

func TestEquivalent(t *testing.T) {
	base := PlaybackSnapshot{
		Title:      "Bohemian Rhapsody",
		Artist:     "Queen",
		Album:      "A Night at the Opera",
		IsPlaying:  true,
		PositionMs: 60000,
		DurationMs: 354000,
	}

	tests := []struct {
		name   string
		mutate func(*PlaybackSnapshot)
		want   bool
	}{
		{"Identical", func(*PlaybackSnapshot) {}, true},
		{"Position +1999", func(s *PlaybackSnapshot) { s.PositionMs += 1999 }, true},
		{"Position -1999", func(s *PlaybackSnapshot) { s.PositionMs -= 1999 }, true},
		{"Position +2000", func(s *PlaybackSnapshot) { s.PositionMs += 2000 }, false},
		{"Position -2000", func(s *PlaybackSnapshot) { s.PositionMs -= 2000 }, false},
		{"Duration ignored", func(s *PlaybackSnapshot) { s.DurationMs = 1 }, true},
		{"CapturedAt ignored", func(s *PlaybackSnapshot) { s.CapturedAtMs = 42 }, true},
		{"Artwork ignored", func(s *PlaybackSnapshot) { s.Artwork = Artwork{URL: "x", Data: []byte{1}} }, true},
		{"Title differs", func(s *PlaybackSnapshot) { s.Title = "Another One Bites the Dust" }, false},
		{"Artist differs", func(s *PlaybackSnapshot) { s.Artist = "Freddie" }, false},
		{"Album differs", func(s *PlaybackSnapshot) { s.Album = "Jazz" }, false},
		{"Paused same position", func(s *PlaybackSnapshot) { s.IsPlaying = false }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			if got := base.Equivalent(&other); got != tt.want {
				t.Errorf("Equivalent() = %v, want %v", got, tt.want)
			}
			// The predicate is symmetric
			if got := other.Equivalent(&base); got != tt.want {
				t.Errorf("reverse Equivalent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEquivalent_PlayStateAlwaysMatters(t *testing.T) {
	for _, delta := range []int64{0, 1, 500, 1999} {
		a := PlaybackSnapshot{Title: "t", IsPlaying: true, PositionMs: 1000}
		b := PlaybackSnapshot{Title: "t", IsPlaying: false, PositionMs: 1000 + delta}
		if a.Equivalent(&b) {
			t.Errorf("delta %d: snapshots differing in isPlaying must not be equivalent", delta)
		}
	}
}

func TestEquivalent_Nil(t *testing.T) {
	if (PlaybackSnapshot{}).Equivalent(nil) {
		t.Error("a snapshot is never equivalent to nil")
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input   string
		want    Command
		wantErr bool
	}{
		{"PLAY_PAUSE", CommandPlayPause, false},
		{"NEXT_TRACK", CommandNextTrack, false},
		{"PREVIOUS_TRACK", CommandPreviousTrack, false},
		{"play_pause", "", true},
		{" NEXT_TRACK", "", true},
		{"", "", true},
		{"STOP", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCommand(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownCommand) {
				t.Errorf("ParseCommand(%q): expected ErrUnknownCommand, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCommand(%q): unexpected error %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestConnectionStateString(t *testing.T) {
	if StateBackoff.String() != "Backoff" {
		t.Errorf("unexpected name %q", StateBackoff.String())
	}
	if ConnectionState(42).String() != "ConnectionState(42)" {
		t.Errorf("unexpected fallback name %q", ConnectionState(42).String())
	}
}
