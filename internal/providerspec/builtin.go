package providerspec

var builtinSpecs = map[string]Spec{
	"anthropic": {
		Key:              "anthropic",
		Aliases:          []string{"claude"},
		Protocol:         ProtocolAnthropicMessages,
		DefaultBaseURL:   "https://api.anthropic.com",
		DefaultPath:      "/v1/messages",
		DefaultModel:     "claude-3-5-sonnet-20240620",
		DefaultAPIKeyEnv: []string{"CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	},
	"openai": {
		Key:              "openai",
		Protocol:         ProtocolOpenAIChatCompletions,
		DefaultBaseURL:   "https://api.openai.com",
		DefaultPath:      "/v1/chat/completions",
		DefaultModel:     "gpt-4o",
		DefaultAPIKeyEnv: []string{"OPENAI_API_KEY"},
	},
	"cerebras": {
		Key:              "cerebras",
		Protocol:         ProtocolOpenAIChatCompletions,
		DefaultBaseURL:   "https://api.cerebras.ai",
		DefaultPath:      "/v1/chat/completions",
		DefaultModel:     "zai-glm-4.6",
		DefaultAPIKeyEnv: []string{"CEREBRAS_API_KEY"},
	},
}

func Builtin(key string) (Spec, bool) {
	s, ok := builtinSpecs[CanonicalProviderKey(key)]
	if !ok {
		return Spec{}, false
	}
	return cloneSpec(s), true
}

func Builtins() map[string]Spec {
	out := make(map[string]Spec, len(builtinSpecs))
	for key, spec := range builtinSpecs {
		out[key] = cloneSpec(spec)
	}
	return out
}

func cloneSpec(in Spec) Spec {
	out := in
	out.Aliases = append([]string{}, in.Aliases...)
	out.DefaultAPIKeyEnv = append([]string{}, in.DefaultAPIKeyEnv...)
	return out
}
