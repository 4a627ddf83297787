package providers

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultLocalBaseURL = "http://localhost:11434"

// Entry is the static declaration of one provider: the models it accepts, in
// preference order, and the endpoint used when the user configured none.
type Entry struct {
	Models          []string `yaml:"models"`
	DefaultEndpoint string   `yaml:"default_endpoint"`
}

type Catalog map[ProviderID]Entry

func DefaultCatalog() Catalog {
	return Catalog{
		Qwen: {
			Models:          []string{"qwen3-235b-a22b", "qwen-turbo-2025-04-28", "qwen-plus", "qwen-turbo"},
			DefaultEndpoint: "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
		},
		DeepSeek: {
			Models:          []string{"deepseek-chat"},
			DefaultEndpoint: "https://api.deepseek.com/v1/chat/completions",
		},
		Kimi: {
			Models:          []string{"moonshot-v1-8k"},
			DefaultEndpoint: "https://api.moonshot.cn/v1/chat/completions",
		},
		Ollama: {
			Models:          []string{"deepseek-r1:14b", "qwen3:14b", "deepseek-r1:7b", "qwen2.5vl:7b", "deepseek-r1:1.5b"},
			DefaultEndpoint: DefaultLocalBaseURL,
		},
	}
}

// Models returns a copy of the declared model list; nil for unknown providers.
func (c Catalog) Models(id ProviderID) []string {
	e, ok := c[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.Models)
}

// EffectiveModel returns selected if the provider declares it, otherwise the
// first declared model. The second result is false when a substitution happened.
func (c Catalog) EffectiveModel(id ProviderID, selected string) (string, bool) {
	models := c[id].Models
	if len(models) == 0 {
		return selected, true
	}
	if slices.Contains(models, selected) {
		return selected, true
	}
	return models[0], false
}

func (c Catalog) DefaultEndpoint(id ProviderID) string {
	return c[id].DefaultEndpoint
}

type catalogFile struct {
	Providers map[string]Entry `yaml:"providers"`
}

// LoadCatalog reads a YAML override on top of DefaultCatalog. Providers missing
// from the file keep their defaults; an empty path returns the defaults.
//
//	providers:
//	  qwen:
//	    models: [qwen-plus, qwen-turbo]
//	    default_endpoint: https://example.internal/v1/chat/completions
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if strings.TrimSpace(path) == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return mergeCatalog(cat, raw)
}

func mergeCatalog(cat Catalog, raw []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for name, override := range f.Providers {
		id, err := ParseProviderID(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if len(override.Models) == 0 {
			return nil, fmt.Errorf("catalog: provider %q declares no models", name)
		}
		entry := cat[id]
		entry.Models = override.Models
		if strings.TrimSpace(override.DefaultEndpoint) != "" {
			entry.DefaultEndpoint = strings.TrimSpace(override.DefaultEndpoint)
		}
		cat[id] = entry
	}
	return cat, nil
}
