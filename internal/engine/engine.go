package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/genricoloni/nowplayer/internal/domain"
)

const (
	DefaultSampleInterval = time.Second

	// hintDebounce coalesces bursts of player change signals, e.g. while
	// the user skips through tracks.
	hintDebounce = 250 * time.Millisecond

	ActivityIdle = "Idle"
)

// ChangeNotifier is implemented by samplers that can signal a likely
// change ahead of the next periodic sample.
type ChangeNotifier interface {
	Changes() <-chan struct{}
}

// Engine samples the local player on a fixed cadence and transmits a
// snapshot only when it differs meaningfully from the last one sent.
type Engine struct {
	logger      *zap.Logger
	clock       clock.Clock
	interval    time.Duration
	sampler     domain.Sampler
	transmitter domain.Transmitter
	fetcher     domain.Fetcher

	// bookmark and the artwork cache are owned by the loop goroutine
	bookmark *domain.PlaybackSnapshot
	artURL   string
	artData  []byte

	resync       atomic.Bool
	sampleErrors rate.Sometimes
	artFailures  rate.Sometimes

	activityMu sync.RWMutex
	activity   string

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a change-detection engine
func NewEngine(
	logger *zap.Logger,
	clk clock.Clock,
	interval time.Duration,
	sampler domain.Sampler,
	transmitter domain.Transmitter,
	fetch domain.Fetcher,
) *Engine {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Engine{
		logger:       logger,
		clock:        clk,
		interval:     interval,
		sampler:      sampler,
		transmitter:  transmitter,
		fetcher:      fetch,
		sampleErrors: rate.Sometimes{First: 1, Interval: time.Minute},
		artFailures:  rate.Sometimes{First: 1, Interval: time.Minute},
		activity:     ActivityIdle,
	}
}

// Start launches the sampling loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(_ context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return nil
	}

	e.logger.Info("Engine starting...", zap.Duration("interval", e.interval))

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	ticker := e.clock.Ticker(e.interval)
	go func() {
		defer close(e.done)
		defer ticker.Stop()
		e.runLoop(runCtx, ticker)
	}()
	return nil
}

// Stop halts the sampling loop and waits for an in-flight tick to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()

	if cancel == nil {
		return nil
	}

	e.logger.Info("Engine stopping...")
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resync forgets the last transmitted snapshot so the next sample is sent
// regardless of equivalence. Safe to call from any goroutine.
func (e *Engine) Resync() {
	e.resync.Store(true)
}

// Activity returns a one-line summary of what the local player is doing.
func (e *Engine) Activity() string {
	e.activityMu.RLock()
	defer e.activityMu.RUnlock()
	return e.activity
}

func (e *Engine) runLoop(ctx context.Context, ticker *clock.Ticker) {
	var hints <-chan struct{}
	if n, ok := e.sampler.(ChangeNotifier); ok {
		hints = n.Changes()
	}

	debounce := e.clock.Timer(hintDebounce)
	debounce.Stop()

	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			e.logger.Info("Engine loop stopped")
			return

		case <-ticker.C:
			e.tick(ctx)

		case _, ok := <-hints:
			if !ok {
				e.logger.Info("Player change notifications closed")
				hints = nil
				continue
			}
			debounce.Reset(hintDebounce)

		case <-debounce.C:
			e.tick(ctx)
		}
	}
}

// tick runs one sample, compare, transmit cycle.
func (e *Engine) tick(ctx context.Context) {
	if e.resync.Swap(false) {
		e.bookmark = nil
	}

	snap, err := e.sampler.Sample(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoMedia) {
			e.sampleErrors.Do(func() {
				e.logger.Warn("Failed to sample player", zap.Error(err))
			})
		}
		if e.bookmark != nil {
			e.logger.Info("Media session ended")
		}
		e.bookmark = nil
		e.setActivity(ActivityIdle)
		return
	}

	if snap.CapturedAtMs == 0 {
		snap.CapturedAtMs = e.clock.Now().UnixMilli()
	}
	if len(snap.Artwork.Data) == 0 {
		snap.Artwork.Data = e.artwork(ctx, snap.Artwork.URL)
	}

	e.setActivity(describe(snap))

	if snap.Equivalent(e.bookmark) && !artworkArrived(e.bookmark, snap) {
		return
	}

	if err := e.transmitter.Send(ctx, snap); err != nil {
		e.logger.Debug("Snapshot not transmitted", zap.Error(err))
		return
	}

	e.bookmark = &snap
	e.logger.Info("Snapshot transmitted",
		zap.String("track", snap.Title),
		zap.String("artist", snap.Artist),
		zap.Bool("playing", snap.IsPlaying),
		zap.Int64("position_ms", snap.PositionMs))
}

// artwork returns the image bytes behind url. Only successful fetches are
// cached, so a failed URL is retried on the next sample.
func (e *Engine) artwork(ctx context.Context, url string) []byte {
	if url == "" {
		return nil
	}
	if url == e.artURL {
		return e.artData
	}

	data, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		e.artFailures.Do(func() {
			e.logger.Warn("Failed to fetch artwork", zap.String("url", url), zap.Error(err))
		})
		return nil
	}

	e.artURL, e.artData = url, data
	return data
}

func (e *Engine) setActivity(activity string) {
	e.activityMu.Lock()
	changed := e.activity != activity
	e.activity = activity
	e.activityMu.Unlock()

	if changed {
		e.logger.Debug("Player activity", zap.String("activity", activity))
	}
}

// artworkArrived reports whether snap carries artwork that the last
// transmitted snapshot of the same track was missing.
func artworkArrived(sent *domain.PlaybackSnapshot, snap domain.PlaybackSnapshot) bool {
	return sent != nil && len(sent.Artwork.Data) == 0 && len(snap.Artwork.Data) > 0
}

func describe(s domain.PlaybackSnapshot) string {
	state := "Paused"
	if s.IsPlaying {
		state = "Playing"
	}
	return fmt.Sprintf("%s: %s - %s", state, s.Artist, s.Title)
}
