package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/providerspec"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 8192
)

type Adapter struct {
	Provider string
	APIKey   string
	BaseURL  string
	Path     string
	Client   *http.Client
}

func NewWithProvider(provider, apiKey, baseURL string) *Adapter {
	p := providerspec.CanonicalProviderKey(provider)
	if p == "" {
		p = "anthropic"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &Adapter{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		Path:     "/v1/messages",
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *Adapter) Name() string {
	if p := providerspec.CanonicalProviderKey(a.Provider); p != "" {
		return p
	}
	return "anthropic"
}

func (a *Adapter) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	path := a.Path
	if path == "" {
		path = "/v1/messages"
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	body := map[string]any{
		"model":      nativeModelID(req.Model),
		"max_tokens": maxTokens,
		"messages":   toAnthropicMessages(req.Messages),
	}
	if strings.TrimSpace(req.System) != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}

	b, err := json.Marshal(body)
	if err != nil {
		return llm.Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return llm.Response{}, llm.WrapTransportError(a.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return llm.Response{}, llm.WrapTransportError(a.Name(), err)
	}
	var raw map[string]any
	_ = json.Unmarshal(rawBytes, &raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ra := llm.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		msg := fmt.Sprintf("messages.create failed: %s", strings.TrimSpace(string(rawBytes)))
		return llm.Response{}, llm.ErrorFromHTTPStatus(a.Name(), resp.StatusCode, msg, raw, ra)
	}
	if raw == nil {
		return llm.Response{}, llm.NewResponseError(a.Name(), "invalid_response", "response body is not a JSON object")
	}
	if t, _ := raw["type"].(string); t == "error" {
		typ, msg := "error", strings.TrimSpace(string(rawBytes))
		if e, ok := raw["error"].(map[string]any); ok {
			if s, _ := e["type"].(string); s != "" {
				typ = s
			}
			if s, _ := e["message"].(string); s != "" {
				msg = s
			}
		}
		return llm.Response{}, llm.NewResponseError(a.Name(), typ, msg)
	}

	return fromAnthropicResponse(a.Name(), raw, req.Model), nil
}

// toAnthropicMessages folds consecutive same-role turns into one message;
// the Messages API rejects two user turns in a row.
func toAnthropicMessages(msgs []llm.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if n := len(out); n > 0 && out[n-1]["role"] == role {
			out[n-1]["content"] = out[n-1]["content"].(string) + "\n\n" + m.Content
			continue
		}
		out = append(out, map[string]any{"role": role, "content": m.Content})
	}
	return out
}

func fromAnthropicResponse(provider string, raw map[string]any, requestedModel string) llm.Response {
	r := llm.Response{
		Provider: provider,
		Model:    requestedModel,
		Raw:      raw,
	}
	if id, _ := raw["id"].(string); id != "" {
		r.ID = id
	}
	if m, _ := raw["model"].(string); m != "" {
		r.Model = m
	}
	if sr, _ := raw["stop_reason"].(string); sr != "" {
		r.StopReason = sr
	}
	if content, ok := raw["content"].([]any); ok {
		for _, partAny := range content {
			part, ok := partAny.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t != "text" {
				continue
			}
			text, _ := part["text"].(string)
			r.Parts = append(r.Parts, text)
		}
	}
	if u, ok := raw["usage"].(map[string]any); ok {
		r.Usage = parseUsage(u)
	}
	return r
}

func parseUsage(u map[string]any) llm.Usage {
	getInt := func(v any) int {
		switch x := v.(type) {
		case float64:
			return int(x)
		case int:
			return x
		default:
			return 0
		}
	}
	return llm.Usage{
		InputTokens:  getInt(u["input_tokens"]),
		OutputTokens: getInt(u["output_tokens"]),
	}
}

// versionDotRe matches dots between digits in model version numbers
// (e.g. "4.5", "3.7") without touching other dots.
var versionDotRe = regexp.MustCompile(`(\d)\.(\d)`)

// nativeModelID translates OpenRouter-format Anthropic model IDs (dots in version
// numbers, e.g. "claude-sonnet-4.5") to the native API format (dashes, e.g.
// "claude-sonnet-4-5"). IDs already in native format pass through unchanged.
func nativeModelID(id string) string {
	return versionDotRe.ReplaceAllString(id, "${1}-${2}")
}
