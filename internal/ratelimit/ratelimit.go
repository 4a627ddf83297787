// Package ratelimit counts chat submissions per client in fixed redis windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

type Limiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

// New builds a limiter allowing limit submissions per window. A window of
// zero means one hour.
func New(rdb *redis.Client, limit int64, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{redis: rdb, limit: limit, window: window}
}

func (l *Limiter) Allow(ctx context.Context, clientID string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(l.window)
	windowEnd := windowStart.Add(l.window)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("chatmux:ratelimit:%s:%d", clientID, windowStart.Unix())
	used, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= l.limit, Used: used, Limit: l.limit, ResetAt: windowEnd}, nil
}
