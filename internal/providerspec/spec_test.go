package providerspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSpecsIncludeSupportedProviders(t *testing.T) {
	s := Builtins()
	for _, key := range []string{"anthropic", "openai", "cerebras"} {
		_, ok := s[key]
		require.Truef(t, ok, "missing builtin provider %q", key)
	}
}

func TestCanonicalProviderKey_Aliases(t *testing.T) {
	assert.Equal(t, "anthropic", CanonicalProviderKey(" Claude "))
	assert.Equal(t, "openai", CanonicalProviderKey("OpenAI"))
	assert.Equal(t, "glm", CanonicalProviderKey("glm"), "unknown provider keys should pass through unchanged")
	assert.Equal(t, "", CanonicalProviderKey("  "))
}

func TestAPIKeyFromEnv_FirstNonEmptyWins(t *testing.T) {
	spec, ok := Builtin("anthropic")
	require.True(t, ok)

	env := map[string]string{"ANTHROPIC_API_KEY": "fallback"}
	assert.Equal(t, "fallback", spec.APIKeyFromEnv(func(k string) string { return env[k] }))

	env["CLAUDE_API_KEY"] = "primary"
	assert.Equal(t, "primary", spec.APIKeyFromEnv(func(k string) string { return env[k] }))
}

func TestBuiltin_ReturnsCopy(t *testing.T) {
	a, _ := Builtin("anthropic")
	a.Aliases[0] = "mutated"
	b, _ := Builtin("anthropic")
	assert.Equal(t, "claude", b.Aliases[0])
}
