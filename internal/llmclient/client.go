package llmclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/llm/providers/anthropic"
	"github.com/test-prof/autopilot/internal/llm/providers/openaicompat"
	"github.com/test-prof/autopilot/internal/providerspec"
)

type Options struct {
	Provider string
	APIKey   string
	// BaseURL overrides the provider's default endpoint.
	BaseURL    string
	Retry      *llm.RetryPolicy
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// New builds a client with exactly one registered adapter, chosen by the
// provider's wire protocol. The adapter becomes the default provider.
func New(opts Options) (*llm.Client, error) {
	key := providerspec.CanonicalProviderKey(opts.Provider)
	if key == "" {
		key = "anthropic"
	}
	spec, ok := providerspec.Builtin(key)
	if !ok {
		return nil, &llm.ConfigurationError{Message: fmt.Sprintf("unsupported llm provider %q", opts.Provider)}
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &llm.ConfigurationError{Message: fmt.Sprintf("missing API key for provider %s (set one of %s)", spec.Key, strings.Join(spec.DefaultAPIKeyEnv, ", "))}
	}
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = spec.DefaultBaseURL
	}

	var adapter llm.ProviderAdapter
	switch spec.Protocol {
	case providerspec.ProtocolAnthropicMessages:
		a := anthropic.NewWithProvider(spec.Key, opts.APIKey, base)
		if spec.DefaultPath != "" {
			a.Path = spec.DefaultPath
		}
		if opts.HTTPClient != nil {
			a.Client = opts.HTTPClient
		}
		adapter = a
	case providerspec.ProtocolOpenAIChatCompletions:
		adapter = openaicompat.NewAdapter(openaicompat.Config{
			Provider: spec.Key,
			APIKey:   opts.APIKey,
			BaseURL:  base,
			Path:     spec.DefaultPath,
		}).WithHTTPClient(opts.HTTPClient)
	default:
		return nil, &llm.ConfigurationError{Message: fmt.Sprintf("provider %s has no adapter for protocol %q", spec.Key, spec.Protocol)}
	}

	c := llm.NewClient()
	c.Register(adapter)
	c.SetDefaultProvider(adapter.Name())
	if opts.Retry != nil {
		c.SetRetryPolicy(*opts.Retry)
	}
	c.SetLogger(opts.Logger)
	return c, nil
}
