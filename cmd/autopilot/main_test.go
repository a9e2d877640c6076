package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, env map[string]string, stdin string) *harness {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp(strings.NewReader(stdin), stdout, stderr, func(k string) string { return env[k] })
	return &harness{app: a, stdout: stdout, stderr: stderr}
}

func (h *harness) exec(args ...string) int {
	return execute(context.Background(), args, h.app)
}

func TestVersion(t *testing.T) {
	h := newHarness(t, nil, "")
	require.Equal(t, exitOK, h.exec("version"))
	assert.Contains(t, h.stdout.String(), "autopilot dev")
}

func TestUsageErrorsExitTwo(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"frobnicate"}, want: "unknown command"},
		{name: "bad log level", args: []string{"--log-level", "loud", "version"}, want: "must be one of"},
		{name: "bad log format", args: []string{"--log-format", "xml", "version"}, want: `must be "text" or "json"`},
		{name: "unknown flag", args: []string{"run", "--nope"}, want: "unknown flag"},
		{name: "extra args", args: []string{"version", "x"}, want: "unknown command"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil, "")
			assert.Equal(t, exitUsage, h.exec(tc.args...))
			assert.Contains(t, h.stderr.String(), tc.want)
		})
	}
}

func TestParse_FromFile(t *testing.T) {
	h := newHarness(t, nil, "")
	h.app.fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(h.app.fs, "resp.txt", []byte("Use let_it_be.\nAction: run_test\nputs 1\n__END__\n"), 0o644))

	require.Equal(t, exitOK, h.exec("parse", "resp.txt"))
	out := h.stdout.String()
	assert.Contains(t, out, "status: complete")
	assert.Contains(t, out, "action: run_test (line 2)")
	assert.Contains(t, out, "rationale:\nUse let_it_be.")
	assert.Contains(t, out, "code:\nputs 1\n")
}

func TestParse_StdinJSON(t *testing.T) {
	h := newHarness(t, nil, "Thinking\nAction: run_test\nputs 1\n")
	require.Equal(t, exitOK, h.exec("parse", "--json"))

	var res parseResult
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &res))
	assert.Equal(t, parseResult{Status: parseTruncated, Action: "run_test", Line: 2, Rationale: "Thinking"}, res)
}

func TestParse_NoAction(t *testing.T) {
	h := newHarness(t, nil, "All done, no further changes.")
	require.Equal(t, exitOK, h.exec("parse", "-"))
	assert.Equal(t, "status: no_action\n", h.stdout.String())
}

func TestParse_UnsupportedActionExitsOne(t *testing.T) {
	h := newHarness(t, nil, "Let me think\nAction: rewrite_all\n")
	require.Equal(t, exitFailure, h.exec("parse"))
	assert.Contains(t, h.stdout.String(), "status: unsupported")
	assert.Contains(t, h.stdout.String(), "action: rewrite_all (line 2)")
}

func TestParse_MissingFile(t *testing.T) {
	h := newHarness(t, nil, "")
	h.app.fs = afero.NewMemMapFs()
	require.Equal(t, exitFailure, h.exec("parse", "nope.txt"))
	assert.Contains(t, h.stderr.String(), "nope.txt")
}

func TestRun_InvalidConfigurationExitsOne(t *testing.T) {
	h := newHarness(t, map[string]string{"GITHUB_REPOSITORY": "acme/app"}, "")
	require.Equal(t, exitFailure, h.exec("run", "--env-file", ""))
	errOut := h.stderr.String()
	assert.Contains(t, errOut, "invalid configuration")
	assert.Contains(t, errOut, "GITHUB_TOKEN")
	assert.Contains(t, errOut, "TEST_FILE_PATH")
}

// fakeRemote serves the Anthropic messages endpoint and the slice of the
// GitHub REST API a session touches.
type fakeRemote struct {
	t *testing.T

	mu        sync.Mutex
	responses []string
	prompts   int
	calls     []string
	comments  []string
	contents  map[string]string
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	reply := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	var in map[string]any
	_ = json.Unmarshal(body, &in)

	switch route := r.Method + " " + r.URL.Path; {
	case route == "POST /v1/messages":
		if f.prompts >= len(f.responses) {
			reply(http.StatusInternalServerError, map[string]any{"type": "error", "error": map[string]any{"type": "api_error", "message": "script exhausted"}})
			return
		}
		text := f.responses[f.prompts]
		f.prompts++
		reply(http.StatusOK, map[string]any{
			"id":          "msg",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-sonnet-20240620",
			"stop_reason": "end_turn",
			"content":     []any{map[string]any{"type": "text", "text": text}},
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
		})
	case strings.HasPrefix(route, "GET /repos/acme/app/branches/"):
		reply(http.StatusNotFound, map[string]any{"message": "Branch not found"})
	case route == "GET /repos/acme/app/git/ref/heads/main":
		reply(http.StatusOK, map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "base-sha"}})
	case route == "POST /repos/acme/app/git/refs":
		reply(http.StatusCreated, map[string]any{"ref": in["ref"], "object": map[string]any{"sha": in["sha"]}})
	case strings.HasPrefix(route, "PUT /repos/acme/app/contents/"):
		f.contents[strings.TrimPrefix(r.URL.Path, "/repos/acme/app/contents/")], _ = in["content"].(string)
		reply(http.StatusOK, map[string]any{"commit": map[string]any{"sha": "commit-sha", "html_url": "https://github.com/acme/app/commit/commit-sha"}})
	case route == "POST /repos/acme/app/pulls":
		reply(http.StatusCreated, map[string]any{
			"number":   7,
			"html_url": "https://github.com/acme/app/pull/7",
			"head":     map[string]any{"ref": in["head"]},
			"base":     map[string]any{"ref": in["base"]},
		})
	case route == "POST /repos/acme/app/issues/7/comments":
		msg, _ := in["body"].(string)
		f.comments = append(f.comments, msg)
		reply(http.StatusCreated, map[string]any{"id": len(f.comments)})
	default:
		f.t.Errorf("unexpected request %s", route)
		reply(http.StatusNotFound, map[string]any{"message": "Not Found"})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	remote := &fakeRemote{
		t: t,
		responses: []string{
			"Replace let with let_it_be.\nAction: run_test\ndescribe 'slow' do\n  it { expect(1).to eq 1 }\nend\n__END__",
			"The file is as fast as it gets.",
		},
		contents: map[string]string{},
	}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "spec"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec", "slow_spec.rb"), []byte("describe 'slow' do\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("Example:\n%{example_git_diff}\nBaseline:\n%{initial_output}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.diff"), []byte("-let\n+let_it_be\n"), 0o644))

	env := map[string]string{
		"CLAUDE_API_KEY":      "sk-test",
		"GITHUB_TOKEN":        "ghs-test",
		"GITHUB_REPOSITORY":   "acme/app",
		"GITHUB_BASE_BRANCH":  "main",
		"GITHUB_API_URL":      srv.URL,
		"TEST_FILE_PATH":      "spec/slow_spec.rb",
		"TEST_COMMAND_PREFIX": "cat",
		"PROMPT_PATH":         filepath.Join(dir, "prompt.md"),
		"EXAMPLE_PATCH_PATH":  filepath.Join(dir, "example.diff"),
	}
	cfgPath := filepath.Join(dir, "autopilot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("llm:\n  base_url: "+srv.URL+"\n  retry:\n    max_attempts: 1\n"), 0o644))
	journalPath := filepath.Join(dir, "state", "journal.db")
	metricsPath := filepath.Join(dir, "autopilot.prom")

	h := newHarness(t, env, "")
	code := h.exec("run",
		"--config", cfgPath,
		"--env-file", "",
		"--dir", dir,
		"--journal", journalPath,
		"--metrics-textfile", metricsPath,
	)
	require.Equal(t, exitOK, code, "stderr:\n%s", h.stderr.String())
	assert.Contains(t, h.stdout.String(), "done (completed) after 2 run(s)")
	assert.Contains(t, h.stdout.String(), "pull request: https://github.com/acme/app/pull/7")

	artifact, err := os.ReadFile(filepath.Join(dir, "spec", "slow_ai_suggest_1_spec.rb"))
	require.NoError(t, err)
	assert.Equal(t, "describe 'slow' do\n  it { expect(1).to eq 1 }\nend\n", string(artifact))

	remote.mu.Lock()
	assert.Equal(t, 2, remote.prompts)
	assert.Contains(t, remote.contents, "spec/slow_spec.rb")
	assert.Contains(t, remote.calls, "POST /repos/acme/app/pulls")
	require.Len(t, remote.comments, 2)
	assert.Contains(t, remote.comments[0], "Replace let with let_it_be.")
	assert.Contains(t, remote.comments[0], "Here are the results of running an updated version")
	assert.True(t, strings.HasPrefix(remote.comments[1], "🤖 We're done here!"))
	remote.mu.Unlock()

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "autopilot_runs_total 2")
	assert.Contains(t, string(prom), `autopilot_test_results_total{result="passed"} 1`)

	hist := newHarness(t, nil, "")
	require.Equal(t, exitOK, hist.exec("history", "--journal", journalPath), hist.stderr.String())
	assert.Contains(t, hist.stdout.String(), "spec/slow_spec.rb")
	assert.Contains(t, hist.stdout.String(), "completed")
}

func TestRun_PathNotInIssueFailsOnce(t *testing.T) {
	var comments []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/app/issues/12", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"number": 12, "title": "Slow", "body": "Something is slow somewhere"})
	})
	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "message", "role": "assistant",
			"content": []any{map[string]any{"type": "text", "text": "I could not tell which file."}},
		})
	})
	mux.HandleFunc("POST /repos/acme/app/issues/12/comments", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		comments = append(comments, in["body"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.md"), []byte("%{initial_output}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.diff"), nil, 0o644))
	env := map[string]string{
		"CLAUDE_API_KEY":      "sk-test",
		"GITHUB_TOKEN":        "ghs-test",
		"GITHUB_REPOSITORY":   "acme/app",
		"GITHUB_BASE_BRANCH":  "main",
		"GITHUB_API_URL":      srv.URL,
		"GITHUB_ISSUE_NUMBER": "12",
		"PROMPT_PATH":         filepath.Join(dir, "prompt.md"),
		"EXAMPLE_PATCH_PATH":  filepath.Join(dir, "example.diff"),
	}
	cfgPath := filepath.Join(dir, "autopilot.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"llm": {"base_url": "`+srv.URL+`"}}`), 0o644))

	h := newHarness(t, env, "")
	require.Equal(t, exitFailure, h.exec("run", "--config", cfgPath, "--env-file", "", "--dir", dir))
	require.Len(t, comments, 1)
	assert.Equal(t, "‼️ Could not find the file path in the issue body", comments[0])
	assert.NotContains(t, h.stderr.String(), "Error:")
}
