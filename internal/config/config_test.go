package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"chatmux/internal/providers"
)

func TestDefaults(t *testing.T) {
	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "file:chatmux.db" || !cfg.Storage.AutoMigrate {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Seed.Provider != providers.Qwen || cfg.Seed.LocalBaseURL != providers.DefaultLocalBaseURL {
		t.Fatalf("unexpected seed defaults %+v", cfg.Seed)
	}
	if cfg.Dispatch.ThinkDelay != 800*time.Millisecond {
		t.Fatalf("unexpected think delay %v", cfg.Dispatch.ThinkDelay)
	}
	if cfg.Crypto.Enabled() {
		t.Fatalf("no master key configured, sealing must be off")
	}
}

func TestOverridesAndValidation(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("CHATMUX_PROVIDER", "ollama")
	t.Setenv("THINK_DELAY", "10ms")
	t.Setenv("HTTP_TIMEOUT", "not-a-duration")

	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Seed.Provider != providers.Ollama {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Storage, cfg.Seed)
	}
	if cfg.Dispatch.ThinkDelay != 10*time.Millisecond {
		t.Fatalf("unexpected think delay %v", cfg.Dispatch.ThinkDelay)
	}
	if cfg.HTTP.ClientTimeout != 120*time.Second {
		t.Fatalf("bad durations should fall back to the default, got %v", cfg.HTTP.ClientTimeout)
	}

	t.Setenv("CHATMUX_PROVIDER", "gemini")
	if _, err := fromEnv(); !errors.Is(err, ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
	t.Setenv("CHATMUX_PROVIDER", "qwen")

	t.Setenv("STORAGE_DRIVER", "mongo")
	if _, err := fromEnv(); !errors.Is(err, ErrInvalidDriver) {
		t.Fatalf("expected ErrInvalidDriver, got %v", err)
	}
	t.Setenv("STORAGE_DRIVER", "memory")

	t.Setenv("RATE_LIMIT_PER_HOUR", "5")
	if _, err := fromEnv(); !errors.Is(err, ErrRateLimitNoRedis) {
		t.Fatalf("expected ErrRateLimitNoRedis, got %v", err)
	}
}

func TestMasterKeys(t *testing.T) {
	k1 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 32)))
	k2 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32)))

	t.Setenv("MASTER_KEY_B64", k1)
	cfg, err := fromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crypto.CurrentKeyID != "default" || len(cfg.Crypto.Keys) != 1 {
		t.Fatalf("unexpected crypto config %+v", cfg.Crypto)
	}

	t.Setenv("MASTER_KEY_B64", "")
	t.Setenv("MASTER_KEYS_JSON", `{"old":"`+k1+`","new":"`+k2+`"}`)
	if _, err := fromEnv(); err == nil {
		t.Fatalf("several keys without a current id must fail")
	}
	t.Setenv("MASTER_KEY_CURRENT_ID", "new")
	cfg, err = fromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Crypto.CurrentKeyID != "new" || len(cfg.Crypto.Keys) != 2 {
		t.Fatalf("unexpected rotated config %+v", cfg.Crypto)
	}

	t.Setenv("MASTER_KEY_CURRENT_ID", "missing")
	if _, err := fromEnv(); err == nil {
		t.Fatalf("unknown current id must fail")
	}

	t.Setenv("MASTER_KEY_CURRENT_ID", "")
	t.Setenv("MASTER_KEYS_JSON", "")
	t.Setenv("MASTER_KEY_SHORT_B64", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := fromEnv(); err == nil {
		t.Fatalf("short key must fail")
	}
}
