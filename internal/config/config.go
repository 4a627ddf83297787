package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chatmux/internal/providers"
)

var (
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required for sqlite and postgres storage")
	ErrInvalidDriver      = errors.New("STORAGE_DRIVER must be one of sqlite, postgres, redis, memory")
	ErrInvalidProvider    = errors.New("CHATMUX_PROVIDER must be one of qwen, deepseek, kimi, ollama")
	ErrRateLimitNoRedis   = errors.New("RATE_LIMIT_PER_HOUR requires REDIS_ADDR")
)

type Config struct {
	Storage  StorageConfig
	Redis    RedisConfig
	HTTP     HTTPConfig
	Rate     RateConfig
	Crypto   CryptoConfig
	Log      LogConfig
	Dispatch DispatchConfig
	Seed     SeedConfig
}

type StorageConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type HTTPConfig struct {
	ListenAddr    string
	HealthPath    string
	MetricsPath   string
	ClientTimeout time.Duration
}

type RateConfig struct {
	PerHour        int64
	IdempotencyTTL time.Duration
}

// CryptoConfig is empty when no master key is configured.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool {
	return len(c.Keys) > 0
}

type LogConfig struct {
	Level string
}

type DispatchConfig struct {
	CatalogPath string
	ThinkDelay  time.Duration
}

// SeedConfig holds provider settings used when nothing has been persisted yet.
type SeedConfig struct {
	Provider     providers.ProviderID
	APIKey       string
	BaseURL      string
	LocalBaseURL string
	Model        string
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists. Variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Driver:      strings.ToLower(mustEnv("STORAGE_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:chatmux.db"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("REDIS_ADDR", ""),
			Password: mustEnv("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		},
		HTTP: HTTPConfig{
			ListenAddr:    mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:    mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:   mustEnv("METRICS_PATH", "/metrics"),
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 120*time.Second),
		},
		Rate: RateConfig{
			PerHour:        int64(mustInt("RATE_LIMIT_PER_HOUR", 0)),
			IdempotencyTTL: mustDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		Dispatch: DispatchConfig{
			CatalogPath: mustEnv("CHATMUX_CATALOG", ""),
			ThinkDelay:  mustDuration("THINK_DELAY", 800*time.Millisecond),
		},
		Seed: SeedConfig{
			Provider:     providers.ProviderID(strings.ToLower(mustEnv("CHATMUX_PROVIDER", string(providers.Qwen)))),
			APIKey:       mustEnv("CHATMUX_API_KEY", ""),
			BaseURL:      mustEnv("CHATMUX_BASE_URL", ""),
			LocalBaseURL: mustEnv("CHATMUX_LOCAL_BASE_URL", providers.DefaultLocalBaseURL),
			Model:        mustEnv("CHATMUX_MODEL", ""),
		},
	}

	switch cfg.Storage.Driver {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
		if cfg.Storage.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("STORAGE_DRIVER=redis requires REDIS_ADDR")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidDriver, cfg.Storage.Driver)
	}
	if !cfg.Seed.Provider.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidProvider, cfg.Seed.Provider)
	}
	if cfg.Rate.PerHour > 0 && cfg.Redis.Addr == "" {
		return nil, ErrRateLimitNoRedis
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

// loadCryptoConfig collects master keys from MASTER_KEYS_JSON,
// MASTER_KEY_<ID>_B64 and MASTER_KEY_B64. No key at all is not an error.
func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "MASTER_KEY_B64" {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if single := mustEnv("MASTER_KEY_B64", ""); single != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = single
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, errors.New("MASTER_KEY_CURRENT_ID is required when several master keys are set")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{CurrentKeyID: current, Keys: keys}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
