package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatmux/internal/chat"
	"chatmux/internal/config"
	"chatmux/internal/conversations"
	"chatmux/internal/dispatch"
	"chatmux/internal/metrics"
	"chatmux/internal/providers"
	"chatmux/internal/ratelimit"
	"chatmux/internal/secrets"
	"chatmux/internal/settings"
	"chatmux/internal/storage"
)

// App holds everything a command needs, built once from the config.
type App struct {
	KV            storage.KV
	Redis         *redis.Client
	Dispatcher    *dispatch.Dispatcher
	Conversations *conversations.Store
	Settings      *settings.Store
	Chat          *chat.Orchestrator
	Limiter       *ratelimit.Limiter
	Dedupe        *ratelimit.Deduplicator
	Metrics       *metrics.Metrics
	Logger        zerolog.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Logger: logger, Metrics: metrics.Global()}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			_ = a.Redis.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	kv, err := storage.OpenKV(ctx, storage.Options{
		Driver:      cfg.Storage.Driver,
		DSN:         cfg.Storage.DSN,
		AutoMigrate: cfg.Storage.AutoMigrate,
		Redis:       a.Redis,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.KV = kv

	var sealer *secrets.Sealer
	if cfg.Crypto.Enabled() {
		sealer, err = secrets.NewSealer(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init sealer: %w", err)
		}
	}

	catalog := providers.DefaultCatalog()
	if cfg.Dispatch.CatalogPath != "" {
		catalog, err = providers.LoadCatalog(cfg.Dispatch.CatalogPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load provider catalog: %w", err)
		}
	}

	a.Dispatcher = dispatch.New(dispatch.Config{}, dispatch.Options{
		Catalog:    catalog,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Logger:     logger,
		Metrics:    a.Metrics,
		ThinkDelay: cfg.Dispatch.ThinkDelay,
	})
	a.Settings = settings.NewStore(settings.Config{KV: kv, Sealer: sealer, Logger: logger})

	stored, ok, err := a.Settings.Load(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if !ok {
		stored = settings.Settings{
			APIKey:           cfg.Seed.APIKey,
			BaseURL:          cfg.Seed.BaseURL,
			LocalBaseURL:     cfg.Seed.LocalBaseURL,
			SelectedProvider: cfg.Seed.Provider,
			SelectedModel:    cfg.Seed.Model,
		}
	}
	settings.Apply(a.Dispatcher, stored)

	a.Conversations = conversations.New(conversations.Config{KV: kv, Logger: logger, Metrics: a.Metrics})
	a.Chat = chat.New(chat.Config{Dispatcher: a.Dispatcher, Store: a.Conversations, Logger: logger})

	if a.Redis != nil {
		if cfg.Rate.PerHour > 0 {
			a.Limiter = ratelimit.New(a.Redis, cfg.Rate.PerHour, time.Hour)
		}
		a.Dedupe = ratelimit.NewDeduplicator(a.Redis, cfg.Rate.IdempotencyTTL)
	}

	logger.Debug().
		Str("storage", cfg.Storage.Driver).
		Str("provider", string(stored.SelectedProvider)).
		Bool("sealing", sealer != nil).
		Bool("rate_limit", a.Limiter != nil).
		Msg("app initialized")
	return a, nil
}

func (a *App) Close() {
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close storage")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("failed to close redis")
		}
	}
}
