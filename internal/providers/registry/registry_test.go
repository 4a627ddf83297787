package registry

import (
	"testing"

	"chatmux/internal/providers"
	"chatmux/internal/providers/ollama"
	"chatmux/internal/providers/openai_compat"
)

func TestBuildPicksClientPerProvider(t *testing.T) {
	for _, id := range []providers.ProviderID{providers.Qwen, providers.DeepSeek, providers.Kimi} {
		p, err := Build(BuildOptions{Provider: id, APIKey: "k"})
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if _, ok := p.(*openai_compat.Client); !ok {
			t.Fatalf("%s: expected openai_compat client, got %T", id, p)
		}
	}

	p, err := Build(BuildOptions{Provider: providers.Ollama, LocalBaseURL: "http://10.0.0.5:11434"})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	oc, ok := p.(*ollama.Client)
	if !ok {
		t.Fatalf("expected ollama client, got %T", p)
	}
	if oc.Endpoint() != "http://10.0.0.5:11434/api/chat" {
		t.Fatalf("unexpected endpoint %q", oc.Endpoint())
	}
}

func TestBuildUnknownProvider(t *testing.T) {
	if _, err := Build(BuildOptions{Provider: "gemini"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
