// Package nowplaying holds the single latest "now playing" value received by
// the hub. It is a one-slot store: readers only ever see the newest value and
// slow subscribers miss intermediate updates instead of queueing them.
package nowplaying

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/nowplayer/internal/domain"
)

// Update is a snapshot together with the local time it was received at
type Update struct {
	Snapshot   domain.PlaybackSnapshot
	ReceivedAt time.Time
}

// Store is safe for concurrent use
type Store struct {
	current atomic.Pointer[Update]

	mu   sync.Mutex
	subs map[chan Update]struct{}
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{subs: make(map[chan Update]struct{})}
}

// Set replaces the current value and notifies subscribers
func (s *Store) Set(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current.Store(&u)
	for ch := range s.subs {
		// Replace whatever the subscriber has not consumed yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// Latest returns the current value, if any
func (s *Store) Latest() (Update, bool) {
	u := s.current.Load()
	if u == nil {
		return Update{}, false
	}
	return *u, true
}

// Subscribe returns a channel that always holds at most the newest update.
// The current value, if any, is delivered immediately.
func (s *Store) Subscribe() <-chan Update {
	ch := make(chan Update, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[ch] = struct{}{}
	if u := s.current.Load(); u != nil {
		ch <- *u
	}
	return ch
}

// Unsubscribe stops notifications on ch and closes it
func (s *Store) Unsubscribe(ch <-chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub == ch {
			delete(s.subs, sub)
			close(sub)
			return
		}
	}
}
