package providerspec

import (
	"strings"
	"sync"
)

type APIProtocol string

const (
	ProtocolAnthropicMessages     APIProtocol = "anthropic_messages"
	ProtocolOpenAIChatCompletions APIProtocol = "openai_chat_completions"
)

// Spec describes how to reach one completion backend over HTTP.
type Spec struct {
	Key              string
	Aliases          []string
	Protocol         APIProtocol
	DefaultBaseURL   string
	DefaultPath      string
	DefaultModel     string
	DefaultAPIKeyEnv []string
}

var (
	providerAliasOnce  sync.Once
	providerAliasIndex map[string]string
)

func providerAliases() map[string]string {
	providerAliasOnce.Do(func() {
		providerAliasIndex = providerAliasIndexFromBuiltins(Builtins())
	})
	return providerAliasIndex
}

func providerAliasIndexFromBuiltins(specs map[string]Spec) map[string]string {
	out := map[string]string{}
	for rawKey, spec := range specs {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		out[key] = key
		for _, rawAlias := range spec.Aliases {
			alias := strings.ToLower(strings.TrimSpace(rawAlias))
			if alias != "" {
				out[alias] = key
			}
		}
	}
	return out
}

// CanonicalProviderKey maps aliases such as "claude" onto their builtin key.
// Unknown keys pass through lowercased.
func CanonicalProviderKey(in string) string {
	key := strings.ToLower(strings.TrimSpace(in))
	if key == "" {
		return ""
	}
	if canonical, ok := providerAliases()[key]; ok {
		return canonical
	}
	return key
}

// APIKeyFromEnv returns the first non-empty value among the spec's key variables.
func (s Spec) APIKeyFromEnv(getenv func(string) string) string {
	for _, name := range s.DefaultAPIKeyEnv {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return v
		}
	}
	return ""
}
