// Package publish turns accepted candidates into commits on a dedicated
// branch and opens one pull request per session.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/test-prof/autopilot/internal/forge"
)

// Backend is the slice of the forge API the publisher drives.
type Backend interface {
	GetBranch(ctx context.Context, name string) (*forge.Branch, error)
	DeleteBranch(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, name, fromRef string) (*forge.Ref, error)
	UpdateFile(ctx context.Context, u forge.FileUpdate) (*forge.Commit, error)
	CreatePullRequest(ctx context.Context, pr forge.NewPullRequest) (*forge.PullRequest, error)
}

type Target struct {
	// Branch is the session's deterministic working branch.
	Branch string
	Base   string
	// Issue is the originating issue number, zero when the session was
	// started from a bare path.
	Issue int
}

type Change struct {
	Path     string
	Message  string
	Previous string
	Next     string
}

type Result struct {
	Commit      *forge.Commit
	PullRequest *forge.PullRequest
	// Opened is true on the call that created the pull request.
	Opened bool
}

type Publisher struct {
	backend Backend
	target  Target
	logger  *slog.Logger
}

func New(backend Backend, target Target, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{backend: backend, target: target, logger: logger}
}

func Title(path string) string {
	return "[TestProf] Optimize: " + path
}

func Body(issue int) string {
	if issue <= 0 {
		return ""
	}
	return fmt.Sprintf("Closes #%d", issue)
}

// Publish commits ch.Next on the working branch. With pr == nil it treats the
// call as the session's first: the branch is recreated from the base tip and,
// once the commit lands, a pull request is opened. With a non-nil pr it only
// commits and hands the same pr back.
func (p *Publisher) Publish(ctx context.Context, pr *forge.PullRequest, ch Change) (Result, error) {
	if pr == nil {
		if err := p.prepareBranch(ctx); err != nil {
			return Result{}, err
		}
	}

	commit, err := p.backend.UpdateFile(ctx, forge.FileUpdate{
		Path:    ch.Path,
		Message: ch.Message,
		BaseSHA: forge.BlobSHA(ch.Previous),
		Content: ch.Next,
		Branch:  p.target.Branch,
	})
	if err != nil {
		return Result{}, fmt.Errorf("commit %s to %s: %w", ch.Path, p.target.Branch, err)
	}
	p.logger.Info("committed candidate", "path", ch.Path, "branch", p.target.Branch, "commit", commit.SHA)

	if pr != nil {
		return Result{Commit: commit, PullRequest: pr}, nil
	}

	opened, err := p.backend.CreatePullRequest(ctx, forge.NewPullRequest{
		Base:  p.target.Base,
		Head:  p.target.Branch,
		Title: Title(ch.Path),
		Body:  Body(p.target.Issue),
	})
	if err != nil {
		return Result{}, fmt.Errorf("open pull request %s -> %s: %w", p.target.Branch, p.target.Base, err)
	}
	p.logger.Info("opened pull request", "number", opened.Number, "url", opened.URL)
	return Result{Commit: commit, PullRequest: opened, Opened: true}, nil
}

func (p *Publisher) prepareBranch(ctx context.Context) error {
	_, err := p.backend.GetBranch(ctx, p.target.Branch)
	switch {
	case err == nil:
		p.logger.Info("deleting stale branch", "branch", p.target.Branch)
		if err := p.backend.DeleteBranch(ctx, p.target.Branch); err != nil && !forge.IsNotFound(err) {
			return fmt.Errorf("delete branch %s: %w", p.target.Branch, err)
		}
	case forge.IsNotFound(err):
	default:
		return fmt.Errorf("look up branch %s: %w", p.target.Branch, err)
	}

	if _, err := p.backend.CreateBranch(ctx, p.target.Branch, "heads/"+p.target.Base); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", p.target.Branch, p.target.Base, err)
	}
	return nil
}
