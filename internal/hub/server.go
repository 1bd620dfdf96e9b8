// Package hub implements the listening endpoint: it accepts WebSocket
// sessions from desktop daemons, keeps the latest snapshot they send and fans
// commands out to all of them.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/nowplaying"
	"github.com/genricoloni/nowplayer/internal/position"
	"github.com/genricoloni/nowplayer/internal/protocol"
)

// WebSocketPath is where sessions are accepted
const WebSocketPath = "/ws"

const (
	statusConnected = "Connected"
	statusStopped   = "Stopped"
)

// Server is the hub endpoint. Its lifecycle is owned by the caller through
// Start and Stop.
type Server struct {
	logger       *zap.Logger
	clock        clock.Clock
	registry     *Registry
	store        *nowplaying.Store
	extrapolator *position.Extrapolator

	listenAddr   string
	pingInterval time.Duration
	idleTimeout  time.Duration

	router        chi.Router
	upgrader      websocket.Upgrader
	commandLimit  *rate.Limiter
	parseWarnings rate.Sometimes
	nextID        atomic.Uint64

	mu         sync.Mutex
	httpServer *http.Server
	advertised string // host:port while listening
	cancel     context.CancelFunc
	lastStatus string
}

// NewServer creates a stopped hub
func NewServer(
	logger *zap.Logger,
	cfg domain.Config,
	clk clock.Clock,
	registry *Registry,
	store *nowplaying.Store,
	extrapolator *position.Extrapolator,
) *Server {
	s := &Server{
		logger:       logger,
		clock:        clk,
		registry:     registry,
		store:        store,
		extrapolator: extrapolator,
		listenAddr:   cfg.GetListenAddr(),
		pingInterval: cfg.GetPingInterval(),
		idleTimeout:  cfg.GetIdleTimeout(),
		router:       chi.NewRouter(),
		upgrader: websocket.Upgrader{
			// Desktop daemons on the local network, no browser origin to check
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		commandLimit:  rate.NewLimiter(10, 5),
		parseWarnings: rate.Sometimes{Interval: 5 * time.Second},
		lastStatus:    statusStopped,
	}
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Failing to bind is
// the one fatal startup error of the hub.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}

	// Cancelled by Stop, which also ends long-lived event streams
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	s.httpServer = srv
	s.cancel = cancel
	s.advertised = advertisedAddr(ln.Addr())
	s.mu.Unlock()

	go s.extrapolator.Follow(baseCtx, s.store)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Hub server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.logger.Info("Hub started", zap.String("addr", ln.Addr().String()))
	s.publishStatus()
	return nil
}

// Stop closes every session and shuts the endpoint down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	cancel := s.cancel
	s.httpServer = nil
	s.cancel = nil
	s.advertised = ""
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()

	var err error
	// Hijacked connections are not tracked by http.Server.Shutdown
	for _, m := range s.registry.Snapshot() {
		if c, ok := m.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	err = multierr.Append(err, srv.Shutdown(ctx))

	s.publishStatus()
	s.logger.Info("Hub stopped")
	return err
}

// Addr returns the advertised host:port, empty when stopped
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertised
}

// IsConnected reports whether at least one session is open
func (s *Server) IsConnected() bool {
	return s.registry.Count() > 0
}

// Status is derived from the session count and the listener state
func (s *Server) Status() string {
	if s.IsConnected() {
		return statusConnected
	}
	if addr := s.Addr(); addr != "" {
		return fmt.Sprintf("Listening on %s%s", addr, WebSocketPath)
	}
	return statusStopped
}

// SendCommand fans cmd out to every open session. Delivery is best effort.
func (s *Server) SendCommand(cmd domain.Command) (int, error) {
	total := s.registry.Count()
	if total == 0 {
		s.logger.Warn("No sessions to send command to", zap.String("command", string(cmd)))
		return 0, nil
	}

	delivered, err := s.registry.Broadcast(protocol.EncodeCommand(cmd))
	s.logger.Info("Command sent",
		zap.String("command", string(cmd)),
		zap.Int("delivered", delivered),
		zap.Int("sessions", total))
	return delivered, err
}

// publishStatus logs status transitions
func (s *Server) publishStatus() {
	status := s.Status()

	s.mu.Lock()
	changed := status != s.lastStatus
	s.lastStatus = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("Status changed",
			zap.String("status", status),
			zap.Bool("connected", s.IsConnected()),
			zap.Int("sessions", s.registry.Count()))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(s.nextID.Add(1), conn, r.RemoteAddr)
	s.registry.Register(sess)
	s.publishStatus()
	s.logger.Info("Client connected",
		zap.Uint64("session", sess.ID()),
		zap.String("remote", sess.Remote()),
		zap.Int("sessions", s.registry.Count()))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.registry.Unregister(sess)
		if err := sess.Close(); err != nil {
			s.logger.Debug("Session close failed", zap.Uint64("session", sess.ID()), zap.Error(err))
		}
		s.publishStatus()
		s.logger.Info("Client disconnected",
			zap.Uint64("session", sess.ID()),
			zap.Int("sessions", s.registry.Count()))
	}()

	go s.heartbeat(ctx, sess)
	s.receive(sess)
}

// receive consumes frames until the peer closes, the transport fails or the
// idle timeout expires.
func (s *Server) receive(sess *Session) {
	conn := sess.conn
	window := s.pingInterval + s.idleTimeout
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(window))
	}

	if err := extend(); err != nil {
		s.logger.Warn("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error { return extend() })
	conn.SetPingHandler(func(data string) error {
		if err := extend(); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Session closed by peer", zap.Uint64("session", sess.ID()))
			} else {
				s.logger.Warn("Session read failed", zap.Uint64("session", sess.ID()), zap.Error(err))
			}
			return
		}
		if err := extend(); err != nil {
			return
		}

		// Only text frames carry state
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleStateFrame(sess, data)
	}
}

func (s *Server) handleStateFrame(sess *Session, data []byte) {
	snapshot, err := protocol.DecodeState(data)
	if err != nil {
		s.logger.Debug("Dropping frame", zap.Uint64("session", sess.ID()), zap.Error(err))
		s.parseWarnings.Do(func() {
			s.logger.Warn("Received malformed state frames",
				zap.Uint64("session", sess.ID()),
				zap.Error(err))
		})
		return
	}

	previous, hadPrevious := s.store.Latest()
	s.store.Set(nowplaying.Update{Snapshot: snapshot, ReceivedAt: s.clock.Now()})

	if !hadPrevious || previous.Snapshot.Title != snapshot.Title || previous.Snapshot.Artist != snapshot.Artist {
		s.logger.Info("Now playing",
			zap.String("title", snapshot.Title),
			zap.String("artist", snapshot.Artist),
			zap.String("album", snapshot.Album),
			zap.Bool("playing", snapshot.IsPlaying))
	} else {
		s.logger.Debug("Now playing updated",
			zap.Bool("playing", snapshot.IsPlaying),
			zap.Int64("position", snapshot.PositionMs))
	}
}

// heartbeat pings the peer until ctx is done. A failed ping closes the
// connection, which ends the receive loop through the common exit path.
func (s *Server) heartbeat(ctx context.Context, sess *Session) {
	ticker := s.clock.Ticker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				s.logger.Debug("Heartbeat failed", zap.Uint64("session", sess.ID()), zap.Error(err))
				_ = sess.Close()
				return
			}
		}
	}
}

// advertisedAddr replaces an unspecified listen host with the first
// non-loopback IPv4 address, the one peers on the LAN can reach.
func advertisedAddr(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = localIPAddress()
	}
	return net.JoinHostPort(host, port)
}

func localIPAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "Unknown"
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "Unknown"
}
