//go:build linux

package monitor

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
)

const (
	mprisPrefix      = "org.mpris.MediaPlayer2."
	mprisPath        = "/org/mpris/MediaPlayer2"
	playerInterface  = "org.mpris.MediaPlayer2.Player"
	propertiesSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
	seekedSignal     = "org.mpris.MediaPlayer2.Player.Seeked"
	ownerSignal      = "org.freedesktop.DBus.NameOwnerChanged"

	unknownField = "Unknown"
)

// playerMethods maps commands onto MPRIS Player methods
var playerMethods = map[domain.Command]string{
	domain.CommandPlayPause:     "PlayPause",
	domain.CommandNextTrack:     "Next",
	domain.CommandPreviousTrack: "Previous",
}

// MprisMonitor samples and controls media players via the D-Bus MPRIS
// interface. It tracks which players are on the bus and raises a change
// hint whenever one of them reports new properties.
type MprisMonitor struct {
	logger      *zap.Logger
	connect     func() (DBusClient, error)
	changes     chan struct{}
	closed      bool // changes was closed by Stop
	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	conn        DBusClient        // Interface for testability
	wg          sync.WaitGroup    // Tracks the signal goroutine
	playerNames map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return &MprisMonitor{
		logger: logger,
		connect: func() (DBusClient, error) {
			return NewStdDBusClient()
		},
		changes:     make(chan struct{}, 1),
		playerNames: make(map[string]string),
	}
}

// Start connects to the session bus and begins tracking players.
// It returns once signal monitoring is running.
func (m *MprisMonitor) Start(_ context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	if m.closed {
		m.changes = make(chan struct{}, 1)
		m.closed = false
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	conn, err := m.connect()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.reset()
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.detectExistingPlayers(); err != nil {
		m.logger.Warn("Failed to detect existing players", zap.Error(err))
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		m.reset()
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
		}
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(playerInterface),
		dbus.WithMatchMember("Seeked"),
	); err != nil {
		m.logger.Warn("Failed to add Seeked match signal", zap.Error(err))
	}

	// Non-fatal, players are still found at startup without it
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	} else {
		m.logger.Info("Dynamic player tracking enabled via NameOwnerChanged")
	}

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx, conn)

	m.logger.Info("MPRIS monitor started")
	return nil
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(_ context.Context) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.running = false
	m.mu.Unlock()

	// The signal goroutine is the only producer on changes
	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	m.mu.Lock()
	close(m.changes)
	m.closed = true
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Changes emits a coalesced hint whenever a player reports a change.
// The channel is closed by Stop and a fresh one is opened by the next
// Start, so callers re-read it after a restart.
func (m *MprisMonitor) Changes() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changes
}

// Sample reads the current state of the most relevant player: a playing
// one first, then a paused one, then a stopped one that still has a track
// loaded.
func (m *MprisMonitor) Sample(_ context.Context) (domain.PlaybackSnapshot, error) {
	conn, players := m.session()
	if conn == nil {
		return domain.PlaybackSnapshot{}, fmt.Errorf("%w: monitor not started", domain.ErrNoMedia)
	}

	player, status, err := m.activePlayer(conn, players)
	if err != nil {
		return domain.PlaybackSnapshot{}, err
	}

	variant, err := conn.GetProperty(player, mprisPath, playerInterface+".Metadata")
	if err != nil {
		return domain.PlaybackSnapshot{}, fmt.Errorf("failed to get metadata from %s: %w", player, err)
	}

	// SAFE CAST: Some players return nil or unexpected types when idle
	metadata, _ := variant.Value().(map[string]dbus.Variant)
	snap := m.parseMetadata(metadata, status)

	if status == "Stopped" && snap.Title == "" {
		return domain.PlaybackSnapshot{}, fmt.Errorf("%w: %s is stopped", domain.ErrNoMedia, player)
	}

	snap.PositionMs = m.positionMs(conn, player)
	fillUnknown(&snap)
	return snap, nil
}

// Invoke sends cmd to the active player
func (m *MprisMonitor) Invoke(_ context.Context, cmd domain.Command) error {
	method, ok := playerMethods[cmd]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, string(cmd))
	}

	conn, players := m.session()
	if conn == nil {
		return fmt.Errorf("%w: monitor not started", domain.ErrNoMedia)
	}

	player, _, err := m.activePlayer(conn, players)
	if err != nil {
		return err
	}

	if err := conn.CallMethod(player, mprisPath, playerInterface+"."+method); err != nil {
		return fmt.Errorf("failed to call %s on %s: %w", method, player, err)
	}

	m.logger.Debug("Player command sent",
		zap.String("player", player),
		zap.String("method", method))
	return nil
}

func (m *MprisMonitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.cancel = nil
}

// session returns the live connection and the sorted well-known names of
// every tracked player.
func (m *MprisMonitor) session() (DBusClient, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]string, 0, len(m.playerNames))
	for _, name := range m.playerNames {
		if !slices.Contains(players, name) {
			players = append(players, name)
		}
	}
	slices.Sort(players)
	return m.conn, players
}

// activePlayer picks the player to sample or control. Ties go to the first
// name in sort order.
func (m *MprisMonitor) activePlayer(conn DBusClient, players []string) (string, string, error) {
	rank := map[string]int{"Playing": 3, "Paused": 2, "Stopped": 1}

	var best, bestStatus string
	for _, player := range players {
		variant, err := conn.GetProperty(player, mprisPath, playerInterface+".PlaybackStatus")
		if err != nil {
			m.logger.Debug("Failed to get playback status",
				zap.String("player", player),
				zap.Error(err))
			continue
		}
		status, ok := variant.Value().(string)
		if !ok {
			continue
		}
		if rank[status] > rank[bestStatus] {
			best, bestStatus = player, status
		}
	}

	if best == "" {
		return "", "", fmt.Errorf("%w: no MPRIS player found", domain.ErrNoMedia)
	}
	return best, bestStatus, nil
}

// positionMs reads the player's position. Players that do not expose it
// are treated as being at the start.
func (m *MprisMonitor) positionMs(conn DBusClient, player string) int64 {
	variant, err := conn.GetProperty(player, mprisPath, playerInterface+".Position")
	if err != nil {
		m.logger.Debug("Position not available", zap.String("player", player), zap.Error(err))
		return 0
	}
	us, ok := toInt64(variant.Value())
	if !ok {
		return 0
	}
	return max(us/1000, 0)
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		playerCount++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		// Without an owner the well-known name doubles as the key
		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			uniqueName = name
		}

		m.mu.Lock()
		m.playerNames[uniqueName] = name
		m.mu.Unlock()
		m.logger.Debug("Mapped player name",
			zap.String("unique", uniqueName),
			zap.String("wellKnown", name))
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	if playerCount > 0 {
		m.notifyChange()
	}
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context, conn DBusClient) {
	defer m.wg.Done()

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	m.logger.Info("Signal monitoring goroutine started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Signal monitoring goroutine stopped")
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			switch sig.Name {
			case ownerSignal:
				m.handleNameOwnerChanged(sig)
			case seekedSignal:
				m.logger.Debug("Player seeked", zap.String("player", m.getPlayerName(sig.Sender)))
				m.notifyChange()
			default:
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	m.mu.Lock()
	switch {
	case newOwner != "" && oldOwner == "":
		m.playerNames[newOwner] = name
	case newOwner == "" && oldOwner != "":
		delete(m.playerNames, oldOwner)
	case newOwner != "" && oldOwner != "":
		delete(m.playerNames, oldOwner)
		m.playerNames[newOwner] = name
	default:
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch {
	case oldOwner == "":
		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))
	case newOwner == "":
		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))
	default:
		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))
	}

	m.notifyChange()
}

// handleSignal processes a PropertiesChanged signal
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	// PropertiesChanged carries the interface name, the changed
	// properties and the invalidated property names
	if sig.Name != propertiesSignal {
		return
	}

	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	metadataVariant, hasMetadata := changedProps["Metadata"]
	statusVariant, hasStatus := changedProps["PlaybackStatus"]

	if !hasMetadata && !hasStatus {
		return
	}

	if hasMetadata {
		if _, ok := metadataVariant.Value().(map[string]dbus.Variant); !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	}

	if hasStatus {
		if _, ok := statusVariant.Value().(string); !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	}

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", m.getPlayerName(sig.Sender)),
		zap.Int("properties", len(changedProps)))

	m.notifyChange()
}

// notifyChange raises the change hint. A hint that is already pending
// covers this one.
func (m *MprisMonitor) notifyChange() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// parseMetadata converts MPRIS metadata to a snapshot. Position and the
// Unknown placeholders are filled in by the caller.
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant, status string) domain.PlaybackSnapshot {
	snap := domain.PlaybackSnapshot{IsPlaying: status == "Playing"}

	if metadata == nil {
		return snap
	}

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			snap.Title = title
		}
	}

	// MPRIS declares artist as a list but some players send a plain string
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			snap.Artist = strings.Join(artists, ", ")
		case string:
			snap.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			snap.Album = album
		}
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := artVar.Value().(string); ok && artURL != "" {
			snap.Artwork.URL = artURL
		}
	}

	if lengthVar, ok := metadata["mpris:length"]; ok {
		if us, ok := toInt64(lengthVar.Value()); ok && us > 0 {
			snap.DurationMs = us / 1000
		}
	}

	return snap
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

func fillUnknown(s *domain.PlaybackSnapshot) {
	for _, field := range []*string{&s.Title, &s.Artist, &s.Album} {
		if *field == "" {
			*field = unknownField
		}
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
