// Package forge is a small GitHub REST client covering the calls the agent
// needs: branches, single-file commits, pull requests, issues and comments.
package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
)

type Options struct {
	BaseURL string
	Token   string
	// Repository is "owner/name".
	Repository string
	UserAgent  string
	// RequestsPerSecond caps outgoing calls; zero means 5 rps with a burst of 10.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

type Client struct {
	baseURL   string
	token     string
	owner     string
	repo      string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func New(opts Options) (*Client, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(opts.Repository), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("forge: repository must be owner/name, got %q", opts.Repository)
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rps, burst := opts.RequestsPerSecond, opts.Burst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "test-prof-autopilot"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   base,
		token:     strings.TrimSpace(opts.Token),
		owner:     owner,
		repo:      repo,
		userAgent: ua,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		logger:    logger,
	}, nil
}

func (c *Client) Repository() string { return c.owner + "/" + c.repo }

func (c *Client) GetBranch(ctx context.Context, name string) (*Branch, error) {
	var out struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("branches", escapePath(name)), nil, &out); err != nil {
		return nil, err
	}
	return &Branch{Name: out.Name, SHA: out.Commit.SHA}, nil
}

func (c *Client) DeleteBranch(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, c.repoPath("git", "refs", "heads", escapePath(name)), nil, nil)
}

// GetRef resolves a ref such as "heads/main".
func (c *Client) GetRef(ctx context.Context, ref string) (*Ref, error) {
	var out refPayload
	ref = strings.TrimPrefix(ref, "refs/")
	if err := c.do(ctx, http.MethodGet, c.repoPath("git", "ref", escapePath(ref)), nil, &out); err != nil {
		return nil, err
	}
	return &Ref{Ref: out.Ref, SHA: out.Object.SHA}, nil
}

// CreateBranch points a new branch at the commit fromRef currently resolves to.
func (c *Client) CreateBranch(ctx context.Context, name, fromRef string) (*Ref, error) {
	from, err := c.GetRef(ctx, fromRef)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", fromRef, err)
	}
	in := map[string]string{"ref": "refs/heads/" + name, "sha": from.SHA}
	var out refPayload
	if err := c.do(ctx, http.MethodPost, c.repoPath("git", "refs"), in, &out); err != nil {
		return nil, err
	}
	return &Ref{Ref: out.Ref, SHA: out.Object.SHA}, nil
}

func (c *Client) UpdateFile(ctx context.Context, u FileUpdate) (*Commit, error) {
	in := map[string]string{
		"message": u.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(u.Content)),
		"branch":  u.Branch,
	}
	if u.BaseSHA != "" {
		in["sha"] = u.BaseSHA
	}
	var out struct {
		Commit struct {
			SHA     string `json:"sha"`
			HTMLURL string `json:"html_url"`
		} `json:"commit"`
	}
	if err := c.do(ctx, http.MethodPut, c.repoPath("contents", escapePath(u.Path)), in, &out); err != nil {
		return nil, err
	}
	return &Commit{SHA: out.Commit.SHA, URL: out.Commit.HTMLURL}, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, pr NewPullRequest) (*PullRequest, error) {
	in := map[string]string{"base": pr.Base, "head": pr.Head, "title": pr.Title, "body": pr.Body}
	var out struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	}
	if err := c.do(ctx, http.MethodPost, c.repoPath("pulls"), in, &out); err != nil {
		return nil, err
	}
	return &PullRequest{Number: out.Number, URL: out.HTMLURL, Head: out.Head.Ref, Base: out.Base.Ref}, nil
}

// AddComment posts to an issue or pull request; both share the issues
// comment endpoint.
func (c *Client) AddComment(ctx context.Context, number int, body string) error {
	in := map[string]string{"body": body}
	return c.do(ctx, http.MethodPost, c.repoPath("issues", strconv.Itoa(number), "comments"), in, nil)
}

func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var out struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("issues", strconv.Itoa(number)), nil, &out); err != nil {
		return nil, err
	}
	return &Issue{Number: out.Number, Title: out.Title, Body: out.Body}, nil
}

type refPayload struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (c *Client) repoPath(parts ...string) string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forge %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("forge %s %s: read body: %w", method, path, err)
	}
	c.logger.Debug("forge request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
			DocURL  string `json:"documentation_url"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Message = payload.Message
			apiErr.DocURL = payload.DocURL
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("forge %s %s: decode response: %w", method, path, err)
	}
	return nil
}

// escapePath escapes each segment of a slash-separated path or ref; GitHub
// wants the slashes themselves left intact.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
