package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers idempotency keys so a retried submission is not
// sent to the provider twice.
type Deduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Deduplicator{redis: rdb, ttl: ttl}
}

// MarkFirst reports whether key is seen for the first time within the TTL.
func (d *Deduplicator) MarkFirst(ctx context.Context, key string) (bool, error) {
	ok, err := d.redis.SetNX(ctx, "chatmux:idem:"+key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
