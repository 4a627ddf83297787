package providers

import (
	"context"
	"fmt"
	"strings"
)

type ProviderID string

const (
	Qwen     ProviderID = "qwen"
	DeepSeek ProviderID = "deepseek"
	Kimi     ProviderID = "kimi"
	Ollama   ProviderID = "ollama"
)

// All lists the providers in the order they are offered to users.
var All = []ProviderID{Qwen, DeepSeek, Kimi, Ollama}

// Remote reports whether the provider is a hosted API that needs a bearer credential.
func (p ProviderID) Remote() bool {
	return p != Ollama
}

func (p ProviderID) Valid() bool {
	switch p {
	case Qwen, DeepSeek, Kimi, Ollama:
		return true
	default:
		return false
	}
}

// DisplayName is the human-facing provider name used in banners and error messages.
func (p ProviderID) DisplayName() string {
	switch p {
	case Qwen:
		return "Qwen"
	case DeepSeek:
		return "DeepSeek"
	case Kimi:
		return "Kimi"
	case Ollama:
		return "Ollama"
	default:
		return string(p)
	}
}

func ParseProviderID(v string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(v)))
	if !id.Valid() {
		return "", fmt.Errorf("unsupported provider %q", v)
	}
	return id, nil
}

type ChatRequest struct {
	Model       string
	UserPrompt  string
	MaxTokens   int
	Temperature float64
	WebSearch   bool
}

type ChatResponse struct {
	Text string
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
