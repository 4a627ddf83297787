package registry

import (
	"fmt"
	"net/http"
	"strings"

	"chatmux/internal/providers"
	"chatmux/internal/providers/ollama"
	"chatmux/internal/providers/openai_compat"
)

type BuildOptions struct {
	Provider     providers.ProviderID
	BaseURL      string
	LocalBaseURL string
	APIKey       string
	Catalog      providers.Catalog
	HTTPClient   *http.Client
}

// Build returns the client for one provider. An empty BaseURL falls back to the
// catalog's default endpoint.
func Build(opts BuildOptions) (providers.Provider, error) {
	if opts.Catalog == nil {
		opts.Catalog = providers.DefaultCatalog()
	}
	switch opts.Provider {
	case providers.Qwen, providers.DeepSeek, providers.Kimi:
		base := strings.TrimSpace(opts.BaseURL)
		if base == "" {
			base = opts.Catalog.DefaultEndpoint(opts.Provider)
		}
		return openai_compat.New(openai_compat.Config{
			Provider:   opts.Provider,
			BaseURL:    base,
			APIKey:     opts.APIKey,
			Builder:    openai_compat.BuilderFor(opts.Provider),
			HTTPClient: opts.HTTPClient,
		}), nil

	case providers.Ollama:
		base := strings.TrimSpace(opts.LocalBaseURL)
		if base == "" {
			base = opts.Catalog.DefaultEndpoint(providers.Ollama)
		}
		return ollama.New(ollama.Config{
			BaseURL:    base,
			HTTPClient: opts.HTTPClient,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported provider %q", opts.Provider)
	}
}
