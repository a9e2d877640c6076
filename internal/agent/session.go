package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/test-prof/autopilot/internal/action"
	"github.com/test-prof/autopilot/internal/diffstat"
	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/notify"
	"github.com/test-prof/autopilot/internal/prompt"
	"github.com/test-prof/autopilot/internal/publish"
	"github.com/test-prof/autopilot/internal/testrun"
)

const DefaultRunBudget = 4

type SessionConfig struct {
	// Target is the test file being optimized, relative to the workspace.
	Target string
	// Issue is the tracking issue number; zero when there is none.
	Issue int
	// RunBudget caps LLM turns per session.
	RunBudget int
	// Command runs the baseline and every candidate.
	Command testrun.Command

	// PromptTemplate is rendered once the baseline output is known.
	PromptTemplate string
	ExampleDiff    string
}

func (c *SessionConfig) applyDefaults() {
	if c.RunBudget <= 0 {
		c.RunBudget = DefaultRunBudget
	}
}

type Deps struct {
	LLM       Completer
	Publisher Publisher
	Tests     TestRunner
	Files     Files
	Notifier  Notifier
	Sinks     []EventSink
	Logger    *slog.Logger
}

// Session drives one target file through observe, propose, apply and test
// until the model stops asking for runs, the budget is spent, or something
// fatal happens. A Session runs once.
type Session struct {
	id     string
	cfg    SessionConfig
	deps   Deps
	logger *slog.Logger

	state  State
	conv   Conversation
	system string
	ran    bool
}

func NewSession(deps Deps, cfg SessionConfig) (*Session, error) {
	switch {
	case deps.LLM == nil:
		return nil, fmt.Errorf("llm completer is nil")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("publisher is nil")
	case deps.Tests == nil:
		return nil, fmt.Errorf("test runner is nil")
	case deps.Files == nil:
		return nil, fmt.Errorf("files is nil")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("notifier is nil")
	case cfg.Target == "":
		return nil, fmt.Errorf("target path is empty")
	}
	cfg.applyDefaults()
	id := ulid.Make().String()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("session", id, "target", cfg.Target),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.state }

func (s *Session) Turns() []Turn { return s.conv.Turns() }

// Run executes the session. On failure the returned error is an *Error whose
// failure notice has already been delivered.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	if s.ran {
		return Outcome{}, &Error{Kind: KindInternal, Err: errors.New("session already ran")}
	}
	s.ran = true

	s.emit(ctx, EventSessionStart, map[string]any{
		"target": s.cfg.Target,
		"issue":  s.cfg.Issue,
		"budget": s.cfg.RunBudget,
	})

	out, err := s.runGuarded(ctx)
	if err != nil {
		ae := newError(KindInternal, err)
		s.report(ctx, ae)
		out = s.outcome(StatusFailed, ReasonFailed, "")
		s.emit(ctx, EventSessionEnd, map[string]any{
			"status": string(out.Status),
			"reason": string(out.Reason),
			"kind":   string(ae.Kind),
			"error":  ae.Err.Error(),
		})
		return out, ae
	}
	s.emit(ctx, EventSessionEnd, map[string]any{
		"status": string(out.Status),
		"reason": string(out.Reason),
	})
	return out, nil
}

func (s *Session) runGuarded(ctx context.Context) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session loop", "panic", r, "stack", string(debug.Stack()))
			err = &Error{Kind: KindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := s.prepare(ctx); err != nil {
		return Outcome{}, err
	}
	return s.loop(ctx)
}

type baselineError struct {
	CommandLine string
	Output      string
}

func (e *baselineError) Error() string {
	return fmt.Sprintf("baseline run failed: `%s`", e.CommandLine)
}

// prepare reads the target, measures the baseline and seeds the conversation.
func (s *Session) prepare(ctx context.Context) error {
	code, err := s.deps.Files.ReadTarget(s.cfg.Target)
	if err != nil {
		return &Error{Kind: KindConfiguration, Err: err}
	}
	s.state.PreviousCode = code

	if err := s.info(ctx, startNotice(s.cfg.Target)); err != nil {
		return err
	}

	line := s.cfg.Command.Line(s.cfg.Target)
	res, err := s.deps.Tests.Run(ctx, line)
	if err != nil {
		return &Error{Kind: KindBackend, Err: fmt.Errorf("baseline: %w", err)}
	}
	s.emit(ctx, EventBaseline, map[string]any{
		"command":   line,
		"succeeded": res.Succeeded,
		"output":    res.Output,
		"duration":  res.Duration.String(),
	})
	if !res.Succeeded {
		return &Error{Kind: KindConfiguration, Err: &baselineError{CommandLine: line, Output: res.Output}}
	}

	s.system, err = prompt.Render(s.cfg.PromptTemplate, map[string]string{
		prompt.ExampleDiff:   s.cfg.ExampleDiff,
		prompt.InitialOutput: res.Output,
	})
	if err != nil {
		return &Error{Kind: KindConfiguration, Err: err}
	}
	s.logger.Debug("system prompt rendered", "prompt", s.system)

	if err := s.info(ctx, baselineNotice(s.cfg.Target, res.Output)); err != nil {
		return err
	}
	s.conv.Append(TurnUserInput, llm.User(initialTurn(code)))
	return nil
}

func (s *Session) loop(ctx context.Context) (Outcome, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, &Error{Kind: KindInternal, Err: err}
		}
		if s.state.Runs >= s.cfg.RunBudget {
			s.emit(ctx, EventBudgetExhausted, map[string]any{"budget": s.cfg.RunBudget})
			if err := s.info(ctx, budgetNotice(s.cfg.RunBudget)); err != nil {
				return Outcome{}, err
			}
			return s.outcome(StatusDone, ReasonBudgetExhausted, ""), nil
		}

		s.state.Runs++
		run := s.state.Runs
		s.logger.Info("begin run", "run", run)
		s.emit(ctx, EventRunStart, nil)

		s.logger.Debug("calling llm", "run", run, "turns", s.conv.Len())
		response, err := s.deps.LLM.Complete(ctx, s.system, s.conv.Messages())
		if err != nil {
			return Outcome{}, &Error{Kind: KindBackend, Err: fmt.Errorf("llm: %w", err)}
		}
		s.conv.Append(TurnAssistant, llm.Assistant(response))
		s.emit(ctx, EventAssistantText, map[string]any{"text": response})

		act, err := action.ParseText(response)
		switch {
		case errors.Is(err, action.ErrNoAction):
			if err := s.info(ctx, doneNotice(response)); err != nil {
				return Outcome{}, err
			}
			return s.outcome(StatusDone, ReasonCompleted, response), nil
		case err != nil:
			return Outcome{}, &Error{Kind: KindProtocol, Err: err}
		}
		s.logger.Info("action", "kind", act.Kind, "line", act.Line+1)

		if !act.Complete() {
			s.logger.Warn("no code end found, looks like a partial file", "run", run, "response", response)
			s.emit(ctx, EventTruncated, map[string]any{"repeated": s.state.Truncated})
			if s.state.Truncated {
				return Outcome{}, &Error{Kind: KindTruncation, Err: errRepeatedTruncation}
			}
			s.state.Truncated = true
			s.conv.Append(TurnObservation, llm.User(truncationObservation))
			continue
		}
		s.state.Truncated = false

		if err := s.apply(ctx, run, act); err != nil {
			return Outcome{}, err
		}
	}
}

// apply writes, publishes and tests one complete candidate, then feeds the
// test output back into the conversation.
func (s *Session) apply(ctx context.Context, run int, act action.Action) error {
	artifact, err := s.deps.Files.WriteArtifact(s.cfg.Target, run, act.Code)
	if err != nil {
		return &Error{Kind: KindInternal, Err: err}
	}
	stat := diffstat.Lines(s.state.PreviousCode, act.Code)
	s.logger.Info("candidate saved", "run", run, "artifact", artifact, "diff", stat.String())
	if !stat.Changed() {
		s.logger.Warn("candidate is identical to the previous code", "run", run)
	}
	s.emit(ctx, EventCandidate, map[string]any{
		"artifact":      artifact,
		"code":          act.Code,
		"lines_added":   stat.Added,
		"lines_removed": stat.Removed,
	})

	res, err := s.deps.Publisher.Publish(ctx, s.state.PullRequest, publish.Change{
		Path:     s.cfg.Target,
		Message:  commitMessage(s.cfg.Target, run),
		Previous: s.state.PreviousCode,
		Next:     act.Code,
	})
	if err != nil {
		return &Error{Kind: KindBackend, Err: fmt.Errorf("publish: %w", err)}
	}
	if s.state.PullRequest == nil && res.PullRequest != nil {
		s.state.PullRequest = res.PullRequest
	}
	data := map[string]any{"opened": res.Opened}
	if res.Commit != nil {
		data["commit"] = res.Commit.SHA
	}
	if pr := s.state.PullRequest; pr != nil {
		data["pull_request"] = pr.Number
		data["pull_request_url"] = pr.URL
	}
	s.emit(ctx, EventPublished, data)

	tr, err := s.deps.Tests.Run(ctx, s.cfg.Command.Line(artifact))
	if err != nil {
		return &Error{Kind: KindBackend, Err: fmt.Errorf("test run: %w", err)}
	}
	s.emit(ctx, EventTestResult, map[string]any{
		"artifact":  artifact,
		"succeeded": tr.Succeeded,
		"exit_code": tr.ExitCode,
		"output":    tr.Output,
		"duration":  tr.Duration.String(),
	})

	s.state.PreviousCode = act.Code
	s.conv.Append(TurnObservation, llm.User(observationTurn(tr.Output)))
	return s.info(ctx, runNotice(act.Rationale, tr.Output))
}

func commitMessage(path string, run int) string {
	return fmt.Sprintf("test-prof: optimize %s (run %d)", path, run)
}

func (s *Session) thread() notify.Thread {
	return notify.Thread{Issue: s.cfg.Issue, PullRequest: s.state.PullRequestNumber()}
}

func (s *Session) info(ctx context.Context, msg string) error {
	if err := s.deps.Notifier.Info(ctx, s.thread(), msg); err != nil {
		return &Error{Kind: KindBackend, Err: err}
	}
	return nil
}

// report delivers the failure notice for err exactly once. It runs detached
// from ctx so a cancelled session can still say why it stopped.
func (s *Session) report(ctx context.Context, err *Error) {
	if err.Reported {
		return
	}
	err.Reported = true
	s.emit(ctx, EventError, map[string]any{"kind": string(err.Kind), "error": err.Err.Error()})
	if nerr := s.deps.Notifier.Failure(context.WithoutCancel(ctx), s.thread(), failureNotice(err)); nerr != nil {
		s.logger.Error("failed to deliver failure notice", "error", nerr)
	}
}

func (s *Session) outcome(status Status, reason Reason, summary string) Outcome {
	return Outcome{
		SessionID:   s.id,
		Status:      status,
		Reason:      reason,
		Runs:        s.state.Runs,
		Summary:     summary,
		PullRequest: s.state.PullRequest,
	}
}

func (s *Session) emit(ctx context.Context, kind EventKind, data map[string]any) {
	if len(s.deps.Sinks) == 0 {
		return
	}
	ev := SessionEvent{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		SessionID: s.id,
		Run:       s.state.Runs,
		Data:      data,
	}
	for _, sink := range s.deps.Sinks {
		if err := sink.HandleEvent(context.WithoutCancel(ctx), ev); err != nil {
			s.logger.Warn("event sink failed", "event", string(kind), "error", err)
		}
	}
}
