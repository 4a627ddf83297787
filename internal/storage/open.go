package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	// Redis is required for the redis driver.
	Redis *redis.Client
}

// OpenKV picks a backend by driver name: sqlite, postgres, redis or memory.
func OpenKV(ctx context.Context, opts Options) (KV, error) {
	switch d := normalizeDriver(opts.Driver); d {
	case "sqlite", "postgres":
		s, err := Open(ctx, d, opts.DSN, opts.AutoMigrate)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis driver selected but no redis client configured")
		}
		return NewRedisStore(opts.Redis), nil
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", strings.TrimSpace(opts.Driver))
	}
}
