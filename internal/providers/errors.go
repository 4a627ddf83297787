package providers

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindProvider       ErrorKind = "provider"
	KindResponseFormat ErrorKind = "response_format"
	KindConnectivity   ErrorKind = "connectivity"
)

// ConfigurationError means the dispatcher was asked to call a provider it cannot
// call with the current settings, e.g. a remote provider without an API key.
type ConfigurationError struct {
	Provider ProviderID
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider.DisplayName(), e.Reason)
}

// ProviderError is a non-2xx answer from the provider. Body is kept verbatim.
type ProviderError struct {
	Provider ProviderID
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider.DisplayName(), e.Status, e.Body)
}

type ResponseFormatError struct {
	Provider ProviderID
	Err      error
}

func (e *ResponseFormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s returned an unexpected response format", e.Provider.DisplayName())
	}
	return fmt.Sprintf("%s returned an unexpected response format: %v", e.Provider.DisplayName(), e.Err)
}

func (e *ResponseFormatError) Unwrap() error { return e.Err }

// ConnectivityError wraps a transport failure: the request never got an HTTP answer.
type ConnectivityError struct {
	Provider ProviderID
	Err      error
	Hint     string
}

func (e *ConnectivityError) Error() string {
	msg := fmt.Sprintf("%s connection failed: %v", e.Provider.DisplayName(), e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// KindOf returns the taxonomy bucket of a dispatch error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var (
		cfgErr  *ConfigurationError
		provErr *ProviderError
		fmtErr  *ResponseFormatError
		connErr *ConnectivityError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &provErr):
		return KindProvider
	case errors.As(err, &fmtErr):
		return KindResponseFormat
	case errors.As(err, &connErr):
		return KindConnectivity
	default:
		return ""
	}
}

// MaxErrorBody caps the provider answer kept in a ProviderError.
const MaxErrorBody = 4 << 10

// TruncateBody trims an error body to MaxErrorBody bytes.
func TruncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > MaxErrorBody {
		s = s[:MaxErrorBody]
	}
	return s
}
