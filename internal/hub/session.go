package hub

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Session is one open WebSocket connection
type Session struct {
	id     uint64
	remote string
	conn   *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint64, conn *websocket.Conn, remote string) *Session {
	return &Session{id: id, conn: conn, remote: remote}
}

// ID returns the session identity
func (s *Session) ID() uint64 {
	return s.id
}

// Remote returns the peer address
func (s *Session) Remote() string {
	return s.remote
}

// Send writes a text frame. Writers are serialized per session.
func (s *Session) Send(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ping sends a heartbeat control frame. WriteControl may run concurrently
// with Send.
func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		// Best effort, the peer may already be gone
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
