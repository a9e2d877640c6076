// Package forgetest provides an in-memory forge for tests.
package forgetest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/test-prof/autopilot/internal/forge"
)

type Comment struct {
	Number int
	Body   string
}

// Fake keeps branches, file contents per branch, pull requests and comments
// in memory. Errors can be injected per operation through the Fail* fields.
type Fake struct {
	mu sync.Mutex

	Branches map[string]string            // name -> sha
	Files    map[string]map[string]string // branch -> path -> content
	Issues   map[int]forge.Issue
	Pulls    []forge.PullRequest
	Comments []Comment
	Calls    []string

	FailGetBranch    error
	FailDeleteBranch error
	FailCreateBranch error
	FailUpdateFile   error
	FailCreatePull   error
	FailComment      error

	nextPR int
}

func New() *Fake {
	return &Fake{
		Branches: map[string]string{"main": "base-sha"},
		Files:    map[string]map[string]string{"main": {}},
		Issues:   map[int]forge.Issue{},
		nextPR:   100,
	}
}

func notFound(method, path string) error {
	return &forge.APIError{Method: method, Path: path, StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

func (f *Fake) GetBranch(_ context.Context, name string) (*forge.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetBranch " + name)
	if f.FailGetBranch != nil {
		return nil, f.FailGetBranch
	}
	sha, ok := f.Branches[name]
	if !ok {
		return nil, notFound(http.MethodGet, "branches/"+name)
	}
	return &forge.Branch{Name: name, SHA: sha}, nil
}

func (f *Fake) DeleteBranch(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteBranch " + name)
	if f.FailDeleteBranch != nil {
		return f.FailDeleteBranch
	}
	if _, ok := f.Branches[name]; !ok {
		return notFound(http.MethodDelete, "git/refs/heads/"+name)
	}
	delete(f.Branches, name)
	delete(f.Files, name)
	return nil
}

func (f *Fake) CreateBranch(_ context.Context, name, fromRef string) (*forge.Ref, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateBranch " + name + " " + fromRef)
	if f.FailCreateBranch != nil {
		return nil, f.FailCreateBranch
	}
	from := fromRef
	if len(from) > len("heads/") && from[:len("heads/")] == "heads/" {
		from = from[len("heads/"):]
	}
	sha, ok := f.Branches[from]
	if !ok {
		return nil, notFound(http.MethodGet, "git/ref/"+fromRef)
	}
	if _, exists := f.Branches[name]; exists {
		return nil, &forge.APIError{Method: http.MethodPost, Path: "git/refs", StatusCode: http.StatusUnprocessableEntity, Message: "Reference already exists"}
	}
	f.Branches[name] = sha
	files := map[string]string{}
	for p, c := range f.Files[from] {
		files[p] = c
	}
	f.Files[name] = files
	return &forge.Ref{Ref: "refs/heads/" + name, SHA: sha}, nil
}

// UpdateFile enforces the base checksum the way the contents API does: a
// mismatch against the branch's current content is a 409.
func (f *Fake) UpdateFile(_ context.Context, u forge.FileUpdate) (*forge.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateFile " + u.Branch + " " + u.Path)
	if f.FailUpdateFile != nil {
		return nil, f.FailUpdateFile
	}
	files, ok := f.Files[u.Branch]
	if !ok {
		return nil, notFound(http.MethodPut, "contents/"+u.Path)
	}
	if cur, exists := files[u.Path]; exists && forge.BlobSHA(cur) != u.BaseSHA {
		return nil, &forge.APIError{Method: http.MethodPut, Path: "contents/" + u.Path, StatusCode: http.StatusConflict, Message: "sha does not match"}
	}
	files[u.Path] = u.Content
	sha := forge.BlobSHA(u.Message + u.Content)
	f.Branches[u.Branch] = sha
	return &forge.Commit{SHA: sha}, nil
}

func (f *Fake) CreatePullRequest(_ context.Context, pr forge.NewPullRequest) (*forge.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreatePullRequest " + pr.Head + " -> " + pr.Base)
	if f.FailCreatePull != nil {
		return nil, f.FailCreatePull
	}
	f.nextPR++
	out := forge.PullRequest{Number: f.nextPR, URL: fmt.Sprintf("https://forge.test/pull/%d", f.nextPR), Head: pr.Head, Base: pr.Base}
	f.Pulls = append(f.Pulls, out)
	return &out, nil
}

func (f *Fake) AddComment(_ context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("AddComment %d", number))
	if f.FailComment != nil {
		return f.FailComment
	}
	f.Comments = append(f.Comments, Comment{Number: number, Body: body})
	return nil
}

func (f *Fake) GetIssue(_ context.Context, number int) (*forge.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("GetIssue %d", number))
	issue, ok := f.Issues[number]
	if !ok {
		return nil, notFound(http.MethodGet, fmt.Sprintf("issues/%d", number))
	}
	return &issue, nil
}

// Seed stores content at path on the base branch.
func (f *Fake) Seed(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files["main"][path] = content
}

func (f *Fake) File(branch, path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Files[branch][path]
	return c, ok
}

func (f *Fake) BranchNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Branches))
	for n := range f.Branches {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
