// Package identity works out which test file a session optimizes and which
// issue, if any, it reports to.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/test-prof/autopilot/internal/forge"
	"github.com/test-prof/autopilot/internal/llm"
)

const DefaultPattern = "spec/**/*_spec.rb"

const extractPrompt = "You need to extract the file path from the GitHub issue body. Respond with the file path only (no other text), prefixed with 'PATH: <file path'."

var (
	ErrNoIdentity = errors.New("either an issue number or a test file path is required")

	tokenRe  = regexp.MustCompile("[^\\s`'\"()<>\\[\\]{},;:|]+")
	answerRe = regexp.MustCompile(`(?m)PATH: (.+)$`)
	branchRe = regexp.MustCompile(`[^\w/]+`)
)

// PathNotFoundError means neither the issue body nor the model produced a
// path.
type PathNotFoundError struct {
	Issue int
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("could not find the file path in the body of issue #%d", e.Issue)
}

type IssueReader interface {
	GetIssue(ctx context.Context, number int) (*forge.Issue, error)
}

type Completer interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
}

type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceIssueBody Source = "issue_body"
	SourceModel     Source = "model"
)

type Input struct {
	Issue int
	Path  string
}

type Identity struct {
	Issue  *forge.Issue
	Path   string
	Source Source
}

// IssueNumber is zero when the session has no tracking issue.
func (id Identity) IssueNumber() int {
	if id.Issue == nil {
		return 0
	}
	return id.Issue.Number
}

type Resolver struct {
	Issues IssueReader
	LLM    Completer
	// Pattern is a doublestar glob that recognizes test files in issue text.
	Pattern string
	Logger  *slog.Logger
}

// Resolve fetches the issue when one is given and settles on a path: an
// explicit path wins, then the first matching path in the issue body, then
// whatever the model extracts.
func (r *Resolver) Resolve(ctx context.Context, in Input) (Identity, error) {
	if in.Issue <= 0 && strings.TrimSpace(in.Path) == "" {
		return Identity{}, ErrNoIdentity
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var id Identity
	if in.Issue > 0 {
		issue, err := r.Issues.GetIssue(ctx, in.Issue)
		if err != nil {
			return Identity{}, fmt.Errorf("fetch issue #%d: %w", in.Issue, err)
		}
		id.Issue = issue
	}
	if p := strings.TrimSpace(in.Path); p != "" {
		id.Path, id.Source = p, SourceExplicit
		return id, nil
	}

	if p := FindPath(r.pattern(), id.Issue.Body); p != "" {
		logger.Info("found test file in issue body", "issue", in.Issue, "path", p)
		id.Path, id.Source = p, SourceIssueBody
		return id, nil
	}

	if r.LLM == nil {
		return Identity{}, &PathNotFoundError{Issue: in.Issue}
	}
	answer, err := r.LLM.Complete(ctx, extractPrompt, []llm.Message{llm.User(id.Issue.Body)})
	if err != nil {
		return Identity{}, fmt.Errorf("extract path from issue #%d: %w", in.Issue, err)
	}
	m := answerRe.FindStringSubmatch(answer)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return Identity{}, &PathNotFoundError{Issue: in.Issue}
	}
	id.Path, id.Source = strings.TrimSpace(m[1]), SourceModel
	if ok, _ := doublestar.Match(r.pattern(), id.Path); !ok {
		logger.Warn("model-extracted path does not look like a test file", "path", id.Path, "pattern", r.pattern())
	}
	logger.Info("model extracted test file from issue", "issue", in.Issue, "path", id.Path)
	return id, nil
}

func (r *Resolver) pattern() string {
	if strings.TrimSpace(r.Pattern) == "" {
		return DefaultPattern
	}
	return r.Pattern
}

// FindPath returns the first path in text matching pattern. A path may start
// at any word boundary inside a token, so blob URLs, ./relative paths and
// key=value pairs are recognized too.
func FindPath(pattern, text string) string {
	for _, tok := range tokenRe.FindAllString(text, -1) {
		tok = strings.TrimRight(tok, ".")
		for i := 0; i < len(tok); i++ {
			if i > 0 && (!isWordByte(tok[i]) || isWordByte(tok[i-1])) {
				continue
			}
			if ok, _ := doublestar.Match(pattern, tok[i:]); ok {
				return tok[i:]
			}
		}
	}
	return ""
}

func isWordByte(c byte) bool {
	return c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

// BranchName is the session's deterministic working branch.
func BranchName(prefix string, issue int, path string) string {
	prefix = strings.TrimRight(prefix, "/")
	if issue > 0 {
		return prefix + "/issue-" + strconv.Itoa(issue)
	}
	return prefix + "/" + branchRe.ReplaceAllString(path, "-")
}
