// Package resilience provides the retry and failure-escalation primitives
// used by sessions: exponential backoff for upstream reconnects and a
// failure window that escalates repeated upstream outages to session-fatal.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"sync"
	"time"
)

// Default backoff parameters for upstream reconnects.
const (
	DefaultBackoff    = 1 * time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Backoff produces exponentially growing delays, doubling from Initial up to
// Max. The zero value uses the defaults.
type Backoff struct {
	// Initial is the first delay. Defaults to DefaultBackoff.
	Initial time.Duration

	// Max caps the delay. Defaults to DefaultMaxBackoff.
	Max time.Duration

	mu      sync.Mutex
	current time.Duration
}

// Next returns the delay to wait before the upcoming attempt and advances
// the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	initial, max := b.Initial, b.Max
	if initial <= 0 {
		initial = DefaultBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}

	if b.current <= 0 {
		b.current = initial
	}
	d := b.current
	b.current *= 2
	if b.current > max {
		b.current = max
	}
	return d
}

// Reset restarts the schedule at the initial delay. Call after a successful
// attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}

// Wait sleeps for the next delay or until ctx is done, whichever comes
// first. Returns ctx.Err() on cancellation.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
