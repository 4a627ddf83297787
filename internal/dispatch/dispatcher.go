// Package dispatch sends a single user message to the currently selected
// provider and normalizes the answer into plain text.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatmux/internal/metrics"
	"chatmux/internal/providers"
	"chatmux/internal/providers/registry"
)

const (
	DefaultMaxTokens   = 5000
	DefaultTemperature = 0.7

	localServiceHint = "is the local Ollama service started?"
)

// Config is the user-controlled provider selection. It is read once per dispatch.
type Config struct {
	Provider     providers.ProviderID
	APIKey       string
	BaseURL      string
	Model        string
	LocalBaseURL string
}

type Request struct {
	Text      string
	WebSearch bool
}

type Result struct {
	Text      string
	Provider  providers.ProviderID
	Model     string
	WebSearch bool
}

type Options struct {
	Catalog    providers.Catalog
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	ThinkDelay time.Duration
}

type Dispatcher struct {
	mu         sync.RWMutex
	cfg        Config
	catalog    providers.Catalog
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	thinkDelay time.Duration
}

func New(cfg Config, opts Options) *Dispatcher {
	if opts.Catalog == nil {
		opts.Catalog = providers.DefaultCatalog()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global()
	}
	if opts.ThinkDelay <= 0 {
		opts.ThinkDelay = DefaultThinkDelay
	}
	if cfg.Provider == "" {
		cfg.Provider = providers.Qwen
	}
	return &Dispatcher{
		cfg:        cfg,
		catalog:    opts.Catalog,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With().Str("component", "dispatch").Logger(),
		metrics:    opts.Metrics,
		thinkDelay: opts.ThinkDelay,
	}
}

func (d *Dispatcher) SelectProvider(id providers.ProviderID) {
	d.mu.Lock()
	d.cfg.Provider = id
	d.mu.Unlock()
}

func (d *Dispatcher) SetCredential(key string) {
	d.mu.Lock()
	d.cfg.APIKey = key
	d.mu.Unlock()
}

func (d *Dispatcher) SetBaseURL(url string) {
	d.mu.Lock()
	d.cfg.BaseURL = url
	d.mu.Unlock()
}

func (d *Dispatcher) SetLocalBaseURL(url string) {
	d.mu.Lock()
	d.cfg.LocalBaseURL = url
	d.mu.Unlock()
}

func (d *Dispatcher) SetModel(model string) {
	d.mu.Lock()
	d.cfg.Model = model
	d.mu.Unlock()
}

func (d *Dispatcher) Snapshot() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

func (d *Dispatcher) Catalog() providers.Catalog {
	return d.catalog
}

func (d *Dispatcher) ListSupportedModels(id providers.ProviderID) []string {
	return d.catalog.Models(id)
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	cfg := d.Snapshot()
	log := d.logger.With().Str("provider", string(cfg.Provider)).Bool("web_search", req.WebSearch).Logger()

	if !cfg.Provider.Valid() {
		return Result{}, d.fail(log, cfg.Provider, &providers.ConfigurationError{Provider: cfg.Provider, Reason: "unsupported provider"})
	}
	if cfg.Provider.Remote() && strings.TrimSpace(cfg.APIKey) == "" {
		return Result{}, d.fail(log, cfg.Provider, &providers.ConfigurationError{Provider: cfg.Provider, Reason: "missing credential"})
	}

	model, declared := d.catalog.EffectiveModel(cfg.Provider, cfg.Model)
	if !declared {
		d.metrics.ModelFallbacks.WithLabelValues(string(cfg.Provider)).Inc()
		log.Warn().Str("selected_model", cfg.Model).Str("effective_model", model).Msg("selected model is not supported by provider, using default")
	}

	p, err := registry.Build(registry.BuildOptions{
		Provider:     cfg.Provider,
		BaseURL:      cfg.BaseURL,
		LocalBaseURL: cfg.LocalBaseURL,
		APIKey:       cfg.APIKey,
		Catalog:      d.catalog,
		HTTPClient:   d.httpClient,
	})
	if err != nil {
		return Result{}, d.fail(log, cfg.Provider, &providers.ConfigurationError{Provider: cfg.Provider, Reason: err.Error()})
	}

	log.Debug().Str("model", model).Str("api_key", RedactKey(cfg.APIKey)).Msg("dispatching")
	started := time.Now()
	resp, err := p.Chat(ctx, providers.ChatRequest{
		Model:       model,
		UserPrompt:  OutboundText(cfg.Provider, req),
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		WebSearch:   req.WebSearch,
	})
	d.metrics.DispatchDuration.WithLabelValues(string(cfg.Provider)).Observe(time.Since(started).Seconds())
	if err != nil {
		var connErr *providers.ConnectivityError
		if cfg.Provider == providers.Ollama && errors.As(err, &connErr) && connErr.Hint == "" {
			connErr.Hint = localServiceHint
		}
		return Result{}, d.fail(log, cfg.Provider, err)
	}

	d.metrics.Dispatches.WithLabelValues(string(cfg.Provider), "success").Inc()
	log.Info().Str("model", model).Dur("took", time.Since(started)).Msg("dispatch completed")

	text := resp.Text
	if req.WebSearch {
		text = WrapSearchResult(cfg.Provider, text)
	}
	return Result{Text: text, Provider: cfg.Provider, Model: model, WebSearch: req.WebSearch}, nil
}

// DispatchWithThinking plays the thinking sequence and then dispatches. A
// cancelled context stops the sequence before any request is sent.
func (d *Dispatcher) DispatchWithThinking(ctx context.Context, req Request, onStep func(string)) (Result, error) {
	if err := d.Think(ctx, onStep); err != nil {
		return Result{}, err
	}
	return d.Dispatch(ctx, req)
}

func (d *Dispatcher) fail(log zerolog.Logger, id providers.ProviderID, err error) error {
	outcome := string(providers.KindOf(err))
	if outcome == "" {
		outcome = "error"
	}
	d.metrics.Dispatches.WithLabelValues(string(id), outcome).Inc()
	log.Error().Err(err).Str("kind", outcome).Msg("dispatch failed")
	return err
}

func RedactKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return fmt.Sprintf("%s****%s", key[:3], key[len(key)-2:])
}
