package domain

import (
	"context"
	"time"
)

// ReplayGuard marks terminal events as processed so a replayed event (feed
// reconnect, process restart) cannot double-apply financial effects. It is a
// second line of defence behind the trade-record status guards.
type ReplayGuard interface {
	// MarkProcessed records the key and reports whether this call was the
	// first to do so within the guard's retention window.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (first bool, err error)
}

// LockManager provides distributed locking for dispatch admission when
// several router instances share a terminal fleet.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter bounds request rates per key, used by the admin API to protect
// the signal submission endpoint.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the
	// window, counting it when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
