package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX + TTL. The first
// caller to mark a key wins; replays within the TTL see first=false. Keys
// carry their namespace already (the reconciler passes "bridge:done:<ticket>"),
// so no prefix is added here.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

// MarkProcessed records the key and reports whether this call was the first
// within the retention window.
func (rg *ReplayGuard) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := rg.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark processed %s: %w", key, err)
	}
	return first, nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
