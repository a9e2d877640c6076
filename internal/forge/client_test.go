package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]any
	Auth   string
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r recorded)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.Body)
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		h(w, rec)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Token: "tok", Repository: "acme/shop", HTTPClient: srv.Client(), RequestsPerSecond: 1000})
	require.NoError(t, err)
	return c, &calls
}

func TestNew_RejectsMalformedRepository(t *testing.T) {
	for _, repo := range []string{"", "acme", "acme/", "/shop", "a/b/c"} {
		_, err := New(Options{Repository: repo})
		assert.Error(t, err, "repo=%q", repo)
	}
}

func TestGetBranch_NotFound(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Branch not found","documentation_url":"https://docs.github.com"}`))
	})

	_, err := c.GetBranch(context.Background(), "test-prof/issue-7")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "Branch not found")
	require.Len(t, *calls, 1)
	assert.Equal(t, "/repos/acme/shop/branches/test-prof/issue-7", (*calls)[0].Path)
	assert.Equal(t, "Bearer tok", (*calls)[0].Auth)
}

func TestCreateBranch_ResolvesBaseRefThenCreates(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		switch {
		case r.Method == http.MethodGet && r.Path == "/repos/acme/shop/git/ref/heads/main":
			_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"abc123"}}`))
		case r.Method == http.MethodPost && r.Path == "/repos/acme/shop/git/refs":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"ref":"refs/heads/test-prof/x","object":{"sha":"abc123"}}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})

	ref, err := c.CreateBranch(context.Background(), "test-prof/x", "heads/main")
	require.NoError(t, err)
	assert.Equal(t, &Ref{Ref: "refs/heads/test-prof/x", SHA: "abc123"}, ref)
	require.Len(t, *calls, 2)
	assert.Equal(t, map[string]any{"ref": "refs/heads/test-prof/x", "sha": "abc123"}, (*calls)[1].Body)
}

func TestUpdateFile_SendsBase64AndBlobSHA(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"commit":{"sha":"c0ffee","html_url":"https://example/commit/c0ffee"}}`))
	})

	commit, err := c.UpdateFile(context.Background(), FileUpdate{
		Path:    "spec/models/user_spec.rb",
		Message: "test-prof: optimize spec/models/user_spec.rb (run 1)",
		BaseSHA: BlobSHA("old\n"),
		Content: "new\n",
		Branch:  "test-prof/issue-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", commit.SHA)

	got := (*calls)[0]
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/repos/acme/shop/contents/spec/models/user_spec.rb", got.Path)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("new\n")), got.Body["content"])
	assert.Equal(t, BlobSHA("old\n"), got.Body["sha"])
	assert.Equal(t, "test-prof/issue-7", got.Body["branch"])
}

func TestCreatePullRequestAndComment(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		switch r.Path {
		case "/repos/acme/shop/pulls":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number":42,"html_url":"https://example/pull/42","head":{"ref":"b"},"base":{"ref":"main"}}`))
		case "/repos/acme/shop/issues/42/comments":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1}`))
		}
	})

	pr, err := c.CreatePullRequest(context.Background(), NewPullRequest{Base: "main", Head: "b", Title: "[TestProf] Optimize: x", Body: "Closes #7"})
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "main", pr.Base)

	require.NoError(t, c.AddComment(context.Background(), pr.Number, "hello"))
	assert.Equal(t, "hello", (*calls)[1].Body["body"])
}

func TestGetIssue(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		_, _ = w.Write([]byte(`{"number":7,"title":"slow","body":"please look at spec/models/user_spec.rb"}`))
	})
	issue, err := c.GetIssue(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, &Issue{Number: 7, Title: "slow", Body: "please look at spec/models/user_spec.rb"}, issue)
}

func TestDo_ServerErrorIsAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r recorded) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	err := c.DeleteBranch(context.Background(), "x")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadGateway, ae.StatusCode)
	assert.Equal(t, "upstream down", ae.Message)
	assert.False(t, IsNotFound(err))
}

func TestBlobSHA_MatchesGit(t *testing.T) {
	// git hash-object of an empty file and of "hello\n".
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", BlobSHA(""))
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", BlobSHA("hello\n"))
}
