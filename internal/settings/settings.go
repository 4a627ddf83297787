// Package settings persists the provider selection and credentials so the
// dispatcher starts where the user left it.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"chatmux/internal/dispatch"
	"chatmux/internal/providers"
	"chatmux/internal/secrets"
	"chatmux/internal/storage"
)

var ErrSealedWithoutKey = errors.New("stored api key is sealed but no sealing key is configured")

type Settings struct {
	APIKey           string               `json:"apiKey"`
	BaseURL          string               `json:"baseUrl"`
	LocalBaseURL     string               `json:"localBaseUrl"`
	SelectedProvider providers.ProviderID `json:"selectedProvider"`
	SelectedModel    string               `json:"selectedModel"`
}

func Defaults() Settings {
	return Settings{
		LocalBaseURL:     providers.DefaultLocalBaseURL,
		SelectedProvider: providers.Qwen,
	}
}

// Redacted returns a copy safe to show to a client.
func (s Settings) Redacted() Settings {
	if s.APIKey != "" {
		s.APIKey = dispatch.RedactKey(s.APIKey)
	}
	return s
}

type Config struct {
	KV     storage.KV
	Key    string
	Sealer *secrets.Sealer
	Logger zerolog.Logger
}

type Store struct {
	kv     storage.KV
	key    string
	sealer *secrets.Sealer
	logger zerolog.Logger
}

func NewStore(cfg Config) *Store {
	if cfg.Key == "" {
		cfg.Key = storage.KeySettings
	}
	return &Store{
		kv:     cfg.KV,
		key:    cfg.Key,
		sealer: cfg.Sealer,
		logger: cfg.Logger.With().Str("component", "settings").Logger(),
	}
}

// Load returns the persisted settings, or Defaults and false when nothing
// has been saved yet.
func (s *Store) Load(ctx context.Context) (Settings, bool, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return Settings{}, false, fmt.Errorf("load settings: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return Defaults(), false, nil
	}

	out := Defaults()
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Settings{}, false, fmt.Errorf("decode settings: %w", err)
	}
	if !out.SelectedProvider.Valid() {
		s.logger.Warn().Str("provider", string(out.SelectedProvider)).Msg("unknown stored provider, using default")
		out.SelectedProvider = providers.Qwen
	}
	if out.LocalBaseURL == "" {
		out.LocalBaseURL = providers.DefaultLocalBaseURL
	}
	if secrets.IsSealed(out.APIKey) {
		if s.sealer == nil {
			return Settings{}, false, ErrSealedWithoutKey
		}
		sealed := out.APIKey
		plain, err := s.sealer.OpenString(sealed)
		if err != nil {
			return Settings{}, false, fmt.Errorf("open api key: %w", err)
		}
		out.APIKey = plain
		if kid, err := secrets.KeyID(sealed); err == nil && kid != s.sealer.CurrentKeyID() {
			s.rotate(ctx, out, sealed, kid)
		}
	}
	return out, true, nil
}

// rotate stores the key sealed under the current master key. A failure is
// only logged: the value still opens with the old key.
func (s *Store) rotate(ctx context.Context, in Settings, sealed, oldKeyID string) {
	resealed, err := s.sealer.Reseal(sealed)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to reseal api key")
		return
	}
	in.APIKey = resealed
	if err := s.put(ctx, in); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store resealed api key")
		return
	}
	s.logger.Info().Str("from", oldKeyID).Str("to", s.sealer.CurrentKeyID()).Msg("api key resealed")
}

func (s *Store) Save(ctx context.Context, in Settings) error {
	out := in
	if out.APIKey != "" {
		if s.sealer != nil {
			sealed, err := s.sealer.SealString(out.APIKey)
			if err != nil {
				return fmt.Errorf("seal api key: %w", err)
			}
			out.APIKey = sealed
		} else {
			s.logger.Warn().Msg("no sealing key configured, api key stored in plain text")
		}
	}
	return s.put(ctx, out)
}

// put writes in as is; the API key must already be sealed if it should be.
func (s *Store) put(ctx context.Context, in Settings) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Apply pushes every field into the dispatcher.
func Apply(d *dispatch.Dispatcher, s Settings) {
	d.SelectProvider(s.SelectedProvider)
	d.SetCredential(s.APIKey)
	d.SetBaseURL(s.BaseURL)
	d.SetLocalBaseURL(s.LocalBaseURL)
	d.SetModel(s.SelectedModel)
}

func FromDispatcher(d *dispatch.Dispatcher) Settings {
	cfg := d.Snapshot()
	return Settings{
		APIKey:           cfg.APIKey,
		BaseURL:          cfg.BaseURL,
		LocalBaseURL:     cfg.LocalBaseURL,
		SelectedProvider: cfg.Provider,
		SelectedModel:    cfg.Model,
	}
}
