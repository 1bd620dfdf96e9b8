package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genricoloni/nowplayer/internal/domain"
	"github.com/genricoloni/nowplayer/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
}

func (h *recordingHandler) Dispatch(_ context.Context, payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.payloads...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (r *stateRecorder) observe(s domain.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) seen() []domain.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConnectionState(nil), r.states...)
}

// startHub serves a WebSocket endpoint that hands every accepted
// connection to session. It returns the ws:// URL and a connection counter.
func startHub(t *testing.T, session func(n int64, conn *websocket.Conn)) (string, *atomic.Int64) {
	t.Helper()

	var accepted atomic.Int64
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		session(accepted.Add(1), conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), &accepted
}

// holdOpen keeps a server-side connection alive until the peer goes away.
func holdOpen(_ int64, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(waitFor):
		}
	})
	return cancel, errCh
}

func TestClient_InitialState(t *testing.T) {
	c := New(zap.NewNop(), "ws://127.0.0.1:1/ws", &recordingHandler{}, Options{})

	assert.Equal(t, domain.StateDisconnected, c.State())
	assert.Equal(t, "Disconnected", c.Status())
	assert.Zero(t, c.RetryIn())
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c := New(zap.NewNop(), "ws://127.0.0.1:1/ws", &recordingHandler{}, Options{})

	err := c.Send(context.Background(), domain.PlaybackSnapshot{Title: "A"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_ConnectsAndDeliversCommands(t *testing.T) {
	url, _ := startHub(t, func(_ int64, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("PLAY_PAUSE"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("NEXT_TRACK"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("BOGUS"))
		holdOpen(0, conn)
	})

	handler := &recordingHandler{}
	c := New(zap.NewNop(), url, handler, Options{})
	runClient(t, c)

	require.Eventually(t, func() bool {
		return len(handler.received()) == 2
	}, waitFor, tick)

	// Binary frames are skipped, unknown text is left to the handler
	assert.Equal(t, []string{"PLAY_PAUSE", "BOGUS"}, handler.received())
	assert.Equal(t, domain.StateConnected, c.State())
	assert.Equal(t, "Connected", c.Status())
}

func TestClient_SendWritesStateFrame(t *testing.T) {
	frames := make(chan []byte, 1)
	url, _ := startHub(t, func(_ int64, conn *websocket.Conn) {
		msgType, data, err := conn.ReadMessage()
		if err == nil && msgType == websocket.TextMessage {
			frames <- data
		}
		holdOpen(0, conn)
	})

	c := New(zap.NewNop(), url, &recordingHandler{}, Options{})
	runClient(t, c)

	require.Eventually(t, func() bool {
		return c.State() == domain.StateConnected
	}, waitFor, tick)

	snap := domain.PlaybackSnapshot{
		Title:        "Paranoid Android",
		Artist:       "Radiohead",
		Album:        "OK Computer",
		IsPlaying:    true,
		PositionMs:   42000,
		DurationMs:   387000,
		CapturedAtMs: 1760000000000,
	}
	require.NoError(t, c.Send(context.Background(), snap))

	select {
	case data := <-frames:
		got, err := protocol.DecodeState(data)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	case <-time.After(waitFor):
		t.Fatal("hub did not receive the state frame")
	}
}

func TestClient_BackoffSchedule(t *testing.T) {
	// Grab a free port and release it so every dial is refused
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	mock := clock.NewMock()
	c := New(zap.NewNop(), url, &recordingHandler{}, Options{Clock: mock})
	runClient(t, c)

	for _, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 16 * time.Second} {
		require.Eventually(t, func() bool {
			return c.State() == domain.StateBackoff && c.RetryIn() == want
		}, waitFor, tick, "expected retry in %s", want)

		mock.Add(want)
	}
}

func TestClient_StatusDuringBackoff(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	mock := clock.NewMock()
	c := New(zap.NewNop(), url, &recordingHandler{}, Options{Clock: mock})
	runClient(t, c)

	require.Eventually(t, func() bool {
		return c.State() == domain.StateBackoff
	}, waitFor, tick)
	assert.Equal(t, "Retrying in 1s", c.Status())

	mock.Add(400 * time.Millisecond)
	assert.Equal(t, 600*time.Millisecond, c.RetryIn())
	assert.Equal(t, "Retrying in 1s", c.Status())
}

func TestClient_KeepaliveFailureReconnects(t *testing.T) {
	url, accepted := startHub(t, func(n int64, conn *websocket.Conn) {
		if n == 1 {
			// Close the first session cleanly; the client's next ping then fails
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			_, _, _ = conn.ReadMessage()
			return
		}
		holdOpen(n, conn)
	})

	rec := &stateRecorder{}
	c := New(zap.NewNop(), url, &recordingHandler{}, Options{
		KeepaliveInterval: 20 * time.Millisecond,
		InitialBackoff:    10 * time.Millisecond,
	})
	c.Observe(rec.observe)
	runClient(t, c)

	require.Eventually(t, func() bool {
		return accepted.Load() == 2 && c.State() == domain.StateConnected
	}, waitFor, tick)

	assert.Subset(t, rec.seen(), []domain.ConnectionState{
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateBackoff,
	})
}

func TestClient_ReceiveExitAloneDoesNotReconnect(t *testing.T) {
	url, accepted := startHub(t, func(_ int64, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		holdOpen(0, conn)
	})

	c := New(zap.NewNop(), url, &recordingHandler{}, Options{KeepaliveInterval: time.Hour})
	runClient(t, c)

	require.Eventually(t, func() bool {
		return c.State() == domain.StateConnected
	}, waitFor, tick)

	// Without a keepalive tick nothing notices the closed session
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.StateConnected, c.State())
	assert.Equal(t, int64(1), accepted.Load())
}

func TestClient_CancelIsTerminal(t *testing.T) {
	url, _ := startHub(t, holdOpen)

	c := New(zap.NewNop(), url, &recordingHandler{}, Options{})
	cancel, errCh := runClient(t, c)

	require.Eventually(t, func() bool {
		return c.State() == domain.StateConnected
	}, waitFor, tick)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancellation")
	}

	assert.Equal(t, domain.StateCancelled, c.State())
	assert.Equal(t, "Stopped", c.Status())

	c.setState(domain.StateConnecting)
	assert.Equal(t, domain.StateCancelled, c.State())

	err := c.Send(context.Background(), domain.PlaybackSnapshot{Title: "A"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_StartStop(t *testing.T) {
	url, accepted := startHub(t, holdOpen)

	c := New(zap.NewNop(), url, &recordingHandler{}, Options{})
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()), "second Start should be a no-op")

	require.Eventually(t, func() bool {
		return c.State() == domain.StateConnected
	}, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.Stop(ctx))

	assert.Equal(t, domain.StateCancelled, c.State())
	assert.Equal(t, int64(1), accepted.Load())
}

func TestClient_ObserverSeesConnected(t *testing.T) {
	url, _ := startHub(t, holdOpen)

	connected := make(chan struct{}, 1)
	c := New(zap.NewNop(), url, &recordingHandler{}, Options{})
	c.Observe(func(s domain.ConnectionState) {
		if s == domain.StateConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	runClient(t, c)

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("observer was not notified of the connection")
	}
}
