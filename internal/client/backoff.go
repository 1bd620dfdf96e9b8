package client

import "time"

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 16 * time.Second
)

// Backoff yields reconnection delays that double from Initial up to Max.
// The zero value uses the package defaults.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	next    time.Duration
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.initialDelay()
	}
	d := b.next
	b.next = min(b.next*2, b.maxDelay())
	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = 0
}

func (b *Backoff) initialDelay() time.Duration {
	if b.Initial > 0 {
		return b.Initial
	}
	return DefaultInitialBackoff
}

func (b *Backoff) maxDelay() time.Duration {
	if b.Max > 0 {
		return max(b.Max, b.initialDelay())
	}
	return DefaultMaxBackoff
}
