// Package notify mirrors session notices to the log and, when the session
// has one, to a comment thread on the forge.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	BotPrefix   = "🤖 "
	AlarmPrefix = "‼️ "
)

type Commenter interface {
	AddComment(ctx context.Context, number int, body string) error
}

// Thread says where comments go. Once a pull request exists it takes
// precedence over the issue.
type Thread struct {
	Issue       int
	PullRequest int
}

// Number is the issue-or-PR number to comment on, zero when there is none.
func (t Thread) Number() int {
	if t.PullRequest > 0 {
		return t.PullRequest
	}
	return t.Issue
}

type Notifier struct {
	comments Commenter
	logger   *slog.Logger
}

// New returns a Notifier. A nil Commenter makes it log-only.
func New(comments Commenter, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{comments: comments, logger: logger}
}

// Info logs msg and posts it to the thread.
func (n *Notifier) Info(ctx context.Context, t Thread, msg string) error {
	n.logger.Info(msg, "thread", t.Number())
	return n.post(ctx, t, msg)
}

// Failure logs msg at error level and posts it to the thread.
func (n *Notifier) Failure(ctx context.Context, t Thread, msg string) error {
	n.logger.Error(msg, "thread", t.Number())
	return n.post(ctx, t, msg)
}

func (n *Notifier) post(ctx context.Context, t Thread, msg string) error {
	num := t.Number()
	if num <= 0 || n.comments == nil {
		return nil
	}
	if err := n.comments.AddComment(ctx, num, msg); err != nil {
		return fmt.Errorf("comment on #%d: %w", num, err)
	}
	return nil
}
