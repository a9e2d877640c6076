package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/test-prof/autopilot/internal/providerspec"
)

type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	retry           RetryPolicy
	logger          *slog.Logger
}

func NewClient() *Client {
	return &Client{
		providers: map[string]ProviderAdapter{},
		retry:     DefaultRetryPolicy(),
		logger:    slog.Default(),
	}
}

func (c *Client) Register(adapter ProviderAdapter) {
	if c.providers == nil {
		c.providers = map[string]ProviderAdapter{}
	}
	c.providers[adapter.Name()] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = adapter.Name()
	}
}

func (c *Client) SetDefaultProvider(name string) {
	c.defaultProvider = name
}

func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// Complete routes req to its provider adapter. Retryable failures (rate
// limits, overloaded or 5xx backends) are retried under the client's
// RetryPolicy; everything else is returned on the first attempt.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	prov := req.Provider
	if prov == "" {
		prov = c.defaultProvider
	}
	if prov == "" {
		return Response{}, &ConfigurationError{Message: "no provider specified and no default provider configured"}
	}
	prov = providerspec.CanonicalProviderKey(prov)
	adapter, ok := c.providers[prov]
	if !ok {
		return Response{}, &ConfigurationError{Message: fmt.Sprintf("unknown provider: %s", prov)}
	}
	req.Provider = prov

	return withRetry(ctx, c.retry, c.logger, func() (Response, error) {
		return adapter.Complete(ctx, req)
	})
}

// Completer binds a Client to one model and sampling setup so callers can
// speak in terms of a system prompt plus history.
type Completer struct {
	Client      *Client
	Provider    string
	Model       string
	MaxTokens   int
	Temperature *float64
}

func (c *Completer) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	resp, err := c.Client.Complete(ctx, Request{
		Provider:    c.Provider,
		Model:       c.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
