package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/test-prof/autopilot/internal/llm"
)

func TestNew_AnthropicByAlias(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{Provider: "claude", APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{llm.User("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "/v1/messages", path)
}

func TestNew_ChatCompletionsProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hey"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{Provider: "cerebras", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	resp, err := c.Complete(context.Background(), llm.Request{Model: "m", Messages: []llm.Message{llm.User("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hey", resp.Text())
	assert.Equal(t, "cerebras", resp.Provider)
}

func TestNew_RejectsUnknownProviderAndMissingKey(t *testing.T) {
	_, err := New(Options{Provider: "nope", APIKey: "k"})
	var ce *llm.ConfigurationError
	require.ErrorAs(t, err, &ce)

	_, err = New(Options{Provider: "anthropic"})
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "CLAUDE_API_KEY")
}
