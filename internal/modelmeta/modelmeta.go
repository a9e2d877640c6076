// Package modelmeta interprets model identifiers that may carry a provider
// prefix, such as "openai/gpt-4o".
package modelmeta

import (
	"strings"

	"github.com/test-prof/autopilot/internal/providerspec"
)

func NormalizeProvider(p string) string {
	return providerspec.CanonicalProviderKey(p)
}

// Split separates a known provider prefix from id. Unknown prefixes stay in
// the model id since some ids contain slashes of their own.
func Split(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	prefix, rest, ok := strings.Cut(id, "/")
	if !ok || rest == "" {
		return "", id
	}
	p := NormalizeProvider(prefix)
	if _, known := providerspec.Builtin(p); !known {
		return "", id
	}
	return p, rest
}

// ProviderFromModelID returns the provider named by id's prefix, or "".
func ProviderFromModelID(id string) string {
	p, _ := Split(id)
	return p
}
