package hub

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMember struct {
	id     uint64
	fail   bool
	onSend func()

	mu       sync.Mutex
	received [][]byte
}

func (f *fakeMember) ID() uint64 { return f.id }

func (f *fakeMember) Send(payload []byte) error {
	if f.onSend != nil {
		f.onSend()
	}
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, payload)
	return nil
}

func (f *fakeMember) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	m := &fakeMember{id: 1}

	r.Register(m)
	r.Register(m)
	assert.Equal(t, 1, r.Count())

	r.Register(&fakeMember{id: 2})
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_DoubleUnregister(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	m := &fakeMember{id: 1}

	r.Register(m)
	r.Unregister(m)
	r.Unregister(m)
	r.Unregister(&fakeMember{id: 99})

	assert.Equal(t, 0, r.Count())
}

func TestRegistry_BroadcastIsolatesFailures(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	good1 := &fakeMember{id: 1}
	bad := &fakeMember{id: 2, fail: true}
	good2 := &fakeMember{id: 3}
	for _, m := range []*fakeMember{good1, bad, good2} {
		r.Register(m)
	}

	delivered, err := r.Broadcast([]byte("NEXT_TRACK"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 2")
	assert.Equal(t, 2, delivered)
	assert.Equal(t, [][]byte{[]byte("NEXT_TRACK")}, good1.frames())
	assert.Equal(t, [][]byte{[]byte("NEXT_TRACK")}, good2.frames())
	// The failing member stays registered; its connection loop removes it
	assert.Equal(t, 3, r.Count())
}

func TestRegistry_BroadcastEmpty(t *testing.T) {
	delivered, err := NewRegistry(zap.NewNop()).Broadcast([]byte("PLAY_PAUSE"))
	assert.NoError(t, err)
	assert.Zero(t, delivered)
}

func TestRegistry_BroadcastSendsOutsideLock(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	// A send that registers a new member would deadlock if the lock were held
	m := &fakeMember{id: 1, onSend: func() { r.Register(&fakeMember{id: 2}) }}
	r.Register(m)

	delivered, err := r.Broadcast([]byte("PLAY_PAUSE"))
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			m := &fakeMember{id: id}
			for j := 0; j < 50; j++ {
				r.Register(m)
				_, _ = r.Broadcast([]byte("x"))
				_ = r.Count()
				r.Unregister(m)
			}
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count())
}
