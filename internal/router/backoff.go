package router

import (
	"context"
	"time"
)

// Backoff is an exponential backoff policy: Base doubled per attempt,
// capped at Cap. It is a value object so tests can assert delays without
// waiting for them.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the delivery retry defaults.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Cap: 8 * time.Second}

// Delay returns the wait before retry number attempt (0-based), so the
// first retry waits Base, the second 2*Base, and so on.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// sleepFunc waits for d or until ctx is cancelled. The router takes it as a
// field so tests can substitute an instant clock.
type sleepFunc func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
