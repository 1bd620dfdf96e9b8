// Package position keeps a displayed playback position moving smoothly
// between the sparse snapshots received from the desktop.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/nowplaying"
)

// DefaultResolution is the display refresh period
const DefaultResolution = 50 * time.Millisecond

// Extrapolate computes the position reached after the time elapsed since
// baseTs, clamped to duration. A duration of zero means the length is unknown
// and no upper clamp applies. Negative elapsed time (clock skew between the
// two machines) counts as zero.
func Extrapolate(base, baseTs, now, duration int64) int64 {
	pos := base + max(now-baseTs, 0)
	if duration > 0 {
		pos = min(pos, duration)
	}
	return max(pos, 0)
}

// Extrapolator turns a stream of snapshots into an advancing position.
// Every Update restarts extrapolation from scratch.
type Extrapolator struct {
	clock      clock.Clock
	resolution time.Duration

	mu       sync.RWMutex
	base     int64
	baseTs   int64
	duration int64
	current  int64
	stop     chan struct{} // non-nil while the refresh loop runs
}

// NewExtrapolator creates an idle extrapolator
func NewExtrapolator(clk clock.Clock) *Extrapolator {
	return &Extrapolator{clock: clk, resolution: DefaultResolution}
}

// Update replaces the extrapolation state with s. receivedAt is used as the
// base timestamp when s carries no capture time.
func (e *Extrapolator) Update(s domain.PlaybackSnapshot, receivedAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	e.base = s.PositionMs
	e.baseTs = s.CapturedAtMs
	if e.baseTs == 0 {
		e.baseTs = receivedAt.UnixMilli()
	}
	e.duration = s.DurationMs
	e.current = Extrapolate(e.base, e.baseTs, e.baseTs, e.duration)

	if !s.IsPlaying || e.pinnedLocked() {
		return
	}

	stop := make(chan struct{})
	e.stop = stop
	// The ticker is created here rather than in the goroutine so a mocked
	// clock sees it as soon as Update returns.
	ticker := e.clock.Ticker(e.resolution)
	go e.run(ticker, stop)
}

func (e *Extrapolator) run(ticker *clock.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if done := e.advance(stop); done {
				return
			}
		}
	}
}

// advance recomputes the position; it returns true when the loop must exit
func (e *Extrapolator) advance(stop chan struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stop != stop {
		// Superseded by a newer Update
		return true
	}

	e.current = Extrapolate(e.base, e.baseTs, e.clock.Now().UnixMilli(), e.duration)
	if e.pinnedLocked() {
		e.stopLocked()
		return true
	}
	return false
}

func (e *Extrapolator) pinnedLocked() bool {
	return e.duration > 0 && e.current >= e.duration
}

func (e *Extrapolator) stopLocked() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Position returns the current extrapolated position in milliseconds
func (e *Extrapolator) Position() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Running reports whether the refresh loop is active
func (e *Extrapolator) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stop != nil
}

// Stop halts the refresh loop, pinning the current value
func (e *Extrapolator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Follow feeds every update published to store into the extrapolator until
// ctx is cancelled.
func (e *Extrapolator) Follow(ctx context.Context, store *nowplaying.Store) {
	updates := store.Subscribe()
	defer store.Unsubscribe(updates)
	defer e.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			e.Update(u.Snapshot, u.ReceivedAt)
		}
	}
}
