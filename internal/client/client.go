package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/protocol"
)

const (
	DefaultKeepaliveInterval = 15 * time.Second

	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send while no hub connection is open.
var ErrNotConnected = errors.New("not connected to hub")

// CommandHandler receives the payload of every inbound text frame.
type CommandHandler interface {
	Dispatch(ctx context.Context, payload string)
}

// Options tunes a Client. Zero fields fall back to defaults.
type Options struct {
	KeepaliveInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Clock             clock.Clock
	Dialer            *websocket.Dialer
}

// Client keeps a single WebSocket session to the hub alive, reconnecting
// with exponential backoff whenever the keepalive ping fails.
type Client struct {
	logger    *zap.Logger
	url       string
	handler   CommandHandler
	clock     clock.Clock
	dialer    *websocket.Dialer
	keepalive time.Duration
	backoff   Backoff

	mu        sync.RWMutex
	state     domain.ConnectionState
	conn      *websocket.Conn
	retryAt   time.Time
	observers []func(domain.ConnectionState)

	writeMu sync.Mutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client for the hub at url. Inbound commands go to handler.
func New(logger *zap.Logger, url string, handler CommandHandler, opts Options) *Client {
	c := &Client{
		logger:    logger,
		url:       url,
		handler:   handler,
		clock:     opts.Clock,
		dialer:    opts.Dialer,
		keepalive: opts.KeepaliveInterval,
		backoff:   Backoff{Initial: opts.InitialBackoff, Max: opts.MaxBackoff},
		state:     domain.StateDisconnected,
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if c.keepalive <= 0 {
		c.keepalive = DefaultKeepaliveInterval
	}
	return c
}

// Start runs the connection loop in the background until Stop is called.
// The context only bounds startup.
func (c *Client) Start(_ context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		if err := c.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Hub client stopped", zap.Error(err))
		}
	}()

	return nil
}

// Stop cancels the connection loop and waits for it to exit.
func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the connection state machine until ctx is cancelled. It always
// returns a non-nil error, context.Canceled on a clean shutdown.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(domain.StateCancelled)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.setState(domain.StateConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := c.backoff.Next()
			c.logger.Warn("Hub connection failed",
				zap.String("url", c.url),
				zap.Duration("retry_in", delay),
				zap.Error(err))
			if !c.wait(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		c.backoff.Reset()
		c.logger.Info("Connected to hub", zap.String("url", c.url))

		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.backoff.Next()
		c.logger.Warn("Hub connection lost",
			zap.Duration("retry_in", delay),
			zap.Error(err))
		if !c.wait(ctx, delay) {
			return ctx.Err()
		}
	}
}

// Send transmits one snapshot as a state frame over the open connection.
func (c *Client) Send(ctx context.Context, snapshot domain.PlaybackSnapshot) error {
	data, err := protocol.EncodeState(snapshot)
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if conn == nil || state != domain.StateConnected {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send state frame: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (c *Client) State() domain.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RetryIn returns how long until the next connection attempt, or zero
// outside of backoff.
func (c *Client) RetryIn() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != domain.StateBackoff {
		return 0
	}
	return max(c.retryAt.Sub(c.clock.Now()), 0)
}

// Status renders the connection state for display.
func (c *Client) Status() string {
	switch state := c.State(); state {
	case domain.StateDisconnected:
		return "Disconnected"
	case domain.StateConnecting:
		return "Connecting..."
	case domain.StateConnected:
		return "Connected"
	case domain.StateBackoff:
		secs := int(math.Ceil(c.RetryIn().Seconds()))
		return fmt.Sprintf("Retrying in %ds", secs)
	case domain.StateCancelled:
		return "Stopped"
	default:
		return state.String()
	}
}

// Observe registers fn to be called on every state change. Callbacks run
// synchronously on the connection goroutine.
func (c *Client) Observe(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(domain.StateConnected)
	return conn, nil
}

// serve runs the keepalive and receive duties for one connection. Only a
// keepalive failure or cancellation ends it; the receive duty exiting on
// its own leaves the connection in place.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.keepaliveLoop(gctx, conn)
	})
	g.Go(func() error {
		c.receiveLoop(gctx, conn)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	err := g.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()

	return err
}

func (c *Client) keepaliveLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := c.clock.Ticker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("keepalive ping failed: %w", err)
			}
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("Hub receive loop ended", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handler.Dispatch(ctx, string(data))
	}
}

// wait parks the loop in Backoff for delay. It reports false if ctx was
// cancelled first.
func (c *Client) wait(ctx context.Context, delay time.Duration) bool {
	timer := c.clock.Timer(delay)
	defer timer.Stop()

	c.mu.Lock()
	c.retryAt = c.clock.Now().Add(delay)
	c.mu.Unlock()
	c.setState(domain.StateBackoff)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setState(state domain.ConnectionState) {
	c.mu.Lock()
	if c.state == state || c.state == domain.StateCancelled {
		c.mu.Unlock()
		return
	}
	c.state = state
	observers := append([]func(domain.ConnectionState){}, c.observers...)
	c.mu.Unlock()

	c.logger.Debug("Hub connection state changed", zap.Stringer("state", state))
	for _, fn := range observers {
		fn(state)
	}
}
