package openai_compat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatmux/internal/providers"
)

// PayloadBuilder turns a request into the provider's JSON body. Every remote
// provider shares the chat-completions envelope but spells the web-search
// switch differently, so each one gets its own builder.
type PayloadBuilder func(req providers.ChatRequest) map[string]any

type Config struct {
	Provider   providers.ProviderID
	BaseURL    string
	APIKey     string
	Builder    PayloadBuilder
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.Builder == nil {
		cfg.Builder = BuilderFor(cfg.Provider)
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	body, endpointURL, err := c.buildPayload(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	text, err := c.callOnce(ctx, endpointURL, body)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.ChatResponse{Text: text}, nil
}

// BuilderFor returns the payload builder of a remote provider.
func BuilderFor(id providers.ProviderID) PayloadBuilder {
	switch id {
	case providers.DeepSeek:
		return BuildDeepSeek
	case providers.Kimi:
		return BuildKimi
	default:
		return BuildQwen
	}
}

func basePayload(req providers.ChatRequest) map[string]any {
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.UserPrompt},
		},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	return payload
}

// BuildQwen targets DashScope's compatible mode, which enables search through a plugin.
func BuildQwen(req providers.ChatRequest) map[string]any {
	payload := basePayload(req)
	if req.WebSearch {
		payload["plugins"] = []map[string]any{
			{"web_search": map[string]any{
				"enable":        true,
				"search_result": true,
			}},
		}
	}
	return payload
}

func BuildDeepSeek(req providers.ChatRequest) map[string]any {
	payload := basePayload(req)
	if req.WebSearch {
		payload["tools"] = []map[string]any{
			{
				"type": "web_search",
				"web_search": map[string]any{
					"search":      true,
					"max_results": 3,
					"enhanced":    true,
				},
			},
		}
	}
	return payload
}

func BuildKimi(req providers.ChatRequest) map[string]any {
	payload := basePayload(req)
	if req.WebSearch {
		payload["tools"] = []map[string]any{
			{
				"type": "web_search",
				"web_search": map[string]any{
					"enable":      true,
					"search_mode": "enhanced",
				},
			},
		}
	}
	return payload
}

func (c *Client) buildPayload(req providers.ChatRequest) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}
	b, err := json.Marshal(c.cfg.Builder(req))
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", ctxErr
		}
		return "", &providers.ConnectivityError{Provider: c.cfg.Provider, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &providers.ConnectivityError{Provider: c.cfg.Provider, Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &providers.ProviderError{
			Provider: c.cfg.Provider,
			Status:   resp.StatusCode,
			Body:     providers.TruncateBody(respBody),
		}
	}

	text, err := parseChatCompletions(respBody)
	if err != nil {
		return "", &providers.ResponseFormatError{Provider: c.cfg.Provider, Err: err}
	}
	return text, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", &providers.ConfigurationError{Provider: c.cfg.Provider, Reason: "base url is empty"}
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", &providers.ConfigurationError{Provider: c.cfg.Provider, Reason: fmt.Sprintf("parse base url: %v", err)}
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in chat completion response")
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, nil
	}
	return "", fmt.Errorf("missing message content in chat completion response")
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
