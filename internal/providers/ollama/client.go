package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"chatmux/internal/providers"
)

const chatPath = "/api/chat"

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to a local Ollama daemon. It sends no credentials and asks for
// a single non-streamed answer.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = providers.DefaultLocalBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

// BuildRequest has no search switch: local search is only simulated through
// the prompt, so WebSearch is ignored here.
func BuildRequest(req providers.ChatRequest) *api.ChatRequest {
	stream := false
	return &api.ChatRequest{
		Model:    req.Model,
		Messages: []api.Message{{Role: "user", Content: req.UserPrompt}},
		Stream:   &stream,
	}
}

// Endpoint is the chat URL derived from the configured base.
func (c *Client) Endpoint() string {
	return c.base() + chatPath
}

func (c *Client) base() string {
	return strings.TrimSuffix(strings.TrimSpace(c.cfg.BaseURL), "/")
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	base, err := url.Parse(c.base())
	if err != nil {
		return providers.ChatResponse{}, &providers.ConfigurationError{Provider: providers.Ollama, Reason: fmt.Sprintf("parse base url: %v", err)}
	}

	// The api client reports some server errors without their status, so the
	// transport keeps it for us.
	rt := &statusRecorder{next: c.cfg.HTTPClient.Transport}
	hc := *c.cfg.HTTPClient
	hc.Transport = rt
	client := api.NewClient(base, &hc)

	var text strings.Builder
	err = client.Chat(ctx, BuildRequest(req), func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return providers.ChatResponse{}, classify(ctx, err, rt.lastStatus())
	}
	if strings.TrimSpace(text.String()) == "" {
		return providers.ChatResponse{}, &providers.ResponseFormatError{
			Provider: providers.Ollama,
			Err:      errors.New("ollama response has empty message content"),
		}
	}
	return providers.ChatResponse{Text: text.String()}, nil
}

func classify(ctx context.Context, err error, status int) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		body := statusErr.ErrorMessage
		if body == "" {
			body = statusErr.Status
		}
		return &providers.ProviderError{Provider: providers.Ollama, Status: statusErr.StatusCode, Body: providers.TruncateBody([]byte(body))}
	}
	if status >= http.StatusBadRequest {
		return &providers.ProviderError{Provider: providers.Ollama, Status: status, Body: providers.TruncateBody([]byte(err.Error()))}
	}

	var (
		urlErr    *url.Error
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &urlErr):
		return &providers.ConnectivityError{Provider: providers.Ollama, Err: err}
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return &providers.ResponseFormatError{Provider: providers.Ollama, Err: err}
	case status == 0:
		return &providers.ConnectivityError{Provider: providers.Ollama, Err: err}
	default:
		return &providers.ResponseFormatError{Provider: providers.Ollama, Err: err}
	}
}

type statusRecorder struct {
	next http.RoundTripper

	mu     sync.Mutex
	status int
}

func (s *statusRecorder) RoundTrip(r *http.Request) (*http.Response, error) {
	next := s.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(r)
	if resp != nil {
		s.mu.Lock()
		s.status = resp.StatusCode
		s.mu.Unlock()
	}
	return resp, err
}

func (s *statusRecorder) lastStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
