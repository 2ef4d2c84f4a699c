// Package credentials provides credential management for speech-to-text
// provider authentication. It supports API keys, AWS SigV4 signing, and
// Azure AD tokens.
package credentials

import (
	"context"
	"net/http"
)

// Credential applies an authentication scheme to an outbound request.
type Credential interface {
	// Apply mutates the request in place: headers, query parameters,
	// or a signed body hash depending on the scheme.
	Apply(ctx context.Context, req *http.Request) error

	// Type identifies the scheme: "api_key", "aws", "azure", "none".
	Type() string
}

const (
	defaultKeyHeader = "Authorization"
	bearerPrefix     = "Bearer "
)

// APIKeyCredential sets a static key on a configurable header. Covers the
// OpenAI-style Authorization bearer and the api-key style vendors use.
type APIKeyCredential struct {
	apiKey     string
	headerName string
	prefix     string
}

// APIKeyOption configures an APIKeyCredential.
type APIKeyOption func(*APIKeyCredential)

// WithHeaderName overrides the header carrying the key.
func WithHeaderName(name string) APIKeyOption {
	return func(c *APIKeyCredential) { c.headerName = name }
}

// WithBearerPrefix prepends "Bearer " to the key value.
func WithBearerPrefix() APIKeyOption {
	return func(c *APIKeyCredential) { c.prefix = bearerPrefix }
}

// WithPrefix prepends a custom prefix to the key value.
func WithPrefix(prefix string) APIKeyOption {
	return func(c *APIKeyCredential) { c.prefix = prefix }
}

// NewAPIKeyCredential builds an API key credential. The default shape is
// an Authorization bearer header.
func NewAPIKeyCredential(apiKey string, opts ...APIKeyOption) *APIKeyCredential {
	c := &APIKeyCredential{
		apiKey:     apiKey,
		headerName: defaultKeyHeader,
		prefix:     bearerPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply sets the key header. An empty key leaves the request untouched.
func (c *APIKeyCredential) Apply(_ context.Context, req *http.Request) error {
	if c.apiKey != "" {
		req.Header.Set(c.headerName, c.prefix+c.apiKey)
	}
	return nil
}

func (c *APIKeyCredential) Type() string { return "api_key" }

// APIKey exposes the raw key for clients that authenticate outside the
// request path, like SDK constructors.
func (c *APIKeyCredential) APIKey() string {
	return c.apiKey
}

// NoOpCredential is for providers that need no authentication or manage
// it internally.
type NoOpCredential struct{}

func (c *NoOpCredential) Apply(_ context.Context, _ *http.Request) error { return nil }

func (c *NoOpCredential) Type() string { return "none" }
