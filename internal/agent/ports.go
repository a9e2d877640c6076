package agent

import (
	"context"

	"github.com/test-prof/autopilot/internal/forge"
	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/notify"
	"github.com/test-prof/autopilot/internal/publish"
	"github.com/test-prof/autopilot/internal/testrun"
)

type Completer interface {
	Complete(ctx context.Context, system string, messages []llm.Message) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, pr *forge.PullRequest, ch publish.Change) (publish.Result, error)
}

type TestRunner interface {
	Run(ctx context.Context, commandLine string) (testrun.Result, error)
}

type Files interface {
	ReadTarget(path string) (string, error)
	WriteArtifact(target string, run int, code string) (string, error)
}

type Notifier interface {
	Info(ctx context.Context, t notify.Thread, msg string) error
	Failure(ctx context.Context, t notify.Thread, msg string) error
}
