package hub

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Member is an open connection tracked by the Registry
type Member interface {
	// ID is unique for the lifetime of the process
	ID() uint64
	// Send writes one text frame to the peer
	Send(payload []byte) error
}

// Registry tracks every open session of the hub.
// All methods are safe for concurrent use.
type Registry struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	members map[uint64]Member
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		members: make(map[uint64]Member),
	}
}

// Register adds m. Registering the same ID twice keeps a single entry.
func (r *Registry) Register(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID()] = m
}

// Unregister removes m. It is a no-op when m is not registered, so the error
// and close paths of a connection may both call it.
func (r *Registry) Unregister(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, m.ID())
}

// Snapshot returns a point-in-time copy of the members
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	return members
}

// Count returns the number of registered members
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast delivers payload to every member registered at call time.
// Sends happen outside the lock. A failing member does not stop delivery to
// the others and is not removed: its own connection loop owns removal.
// The returned error combines every individual failure.
func (r *Registry) Broadcast(payload []byte) (int, error) {
	members := r.Snapshot()

	var (
		delivered int
		errs      error
	)
	for _, m := range members {
		if err := m.Send(payload); err != nil {
			r.logger.Warn("Failed to deliver frame",
				zap.Uint64("session", m.ID()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("session %d: %w", m.ID(), err))
			continue
		}
		delivered++
	}

	r.logger.Debug("Broadcast complete",
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered))

	return delivered, errs
}
