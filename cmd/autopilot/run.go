package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/test-prof/autopilot/internal/agent"
	"github.com/test-prof/autopilot/internal/config"
	"github.com/test-prof/autopilot/internal/forge"
	"github.com/test-prof/autopilot/internal/gitutil"
	"github.com/test-prof/autopilot/internal/identity"
	"github.com/test-prof/autopilot/internal/journal"
	"github.com/test-prof/autopilot/internal/llm"
	"github.com/test-prof/autopilot/internal/llmclient"
	"github.com/test-prof/autopilot/internal/metrics"
	"github.com/test-prof/autopilot/internal/notify"
	"github.com/test-prof/autopilot/internal/publish"
	"github.com/test-prof/autopilot/internal/testrun"
	"github.com/test-prof/autopilot/internal/workspace"
)

type runFlags struct {
	configPath string
	envFile    string
	dir        string

	issue      int
	path       string
	budget     int
	model      string
	baseBranch string
	journal    string
	metrics    string
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize one test file and publish each attempt as a pull request commit",
		Long: `Run profiles the target test file, then asks the model for improved
versions. Every candidate is committed to a dedicated branch, run with the
test command and fed back to the model until it is satisfied or the run
budget is spent.

The target comes from --issue (the issue body names the file) or --path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{
				Fs:         a.fs,
				ConfigPath: f.configPath,
				DotenvPath: f.envFile,
				Getenv:     a.getenv,
				Override:   func(c *config.Config) { f.apply(cmd, c) },
			})
			if err != nil {
				return failure(err)
			}
			for _, name := range cfg.FillFromGit(workDir(cfg)) {
				a.logger.Info("setting taken from git checkout", "setting", name)
			}
			if err := cfg.Validate(); err != nil {
				return failure(fmt.Errorf("invalid configuration:\n%w", err))
			}
			return a.runSession(cmd.Context(), cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML or JSON config file")
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file read when present; never overrides the environment")
	fl.StringVar(&f.dir, "dir", "", "project root holding the test file (default: current directory)")
	fl.IntVar(&f.issue, "issue", 0, "issue describing the slow test file")
	fl.StringVar(&f.path, "path", "", "test file to optimize, relative to --dir")
	fl.IntVar(&f.budget, "budget", 0, "maximum model turns")
	fl.StringVar(&f.model, "model", "", "model id")
	fl.StringVar(&f.baseBranch, "base-branch", "", "branch the pull request targets")
	fl.StringVar(&f.journal, "journal", "", "record the session in this SQLite file")
	fl.StringVar(&f.metrics, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	return cmd
}

// apply lets explicitly passed flags win over every other source.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("dir") {
		cfg.Test.Dir = f.dir
	}
	if changed("issue") {
		cfg.Target.Issue = f.issue
	}
	if changed("path") {
		cfg.Target.Path = f.path
	}
	if changed("budget") {
		cfg.RunBudget = f.budget
	}
	if changed("model") {
		cfg.LLM.Model = f.model
	}
	if changed("base-branch") {
		cfg.Forge.BaseBranch = f.baseBranch
	}
	if changed("journal") {
		cfg.Journal.Path = f.journal
	}
	if changed("metrics-textfile") {
		cfg.Metrics.Textfile = f.metrics
	}
}

func (a *app) runSession(ctx context.Context, cfg *config.Config) error {
	logger := a.logger

	prompts, err := cfg.LoadPrompts(a.fs)
	if err != nil {
		return failure(err)
	}

	gh, err := forge.New(forge.Options{
		BaseURL:           cfg.Forge.BaseURL,
		Token:             cfg.Forge.Token,
		Repository:        cfg.Forge.Repository,
		UserAgent:         userAgent(),
		RequestsPerSecond: cfg.Forge.RequestsPerSecond,
		HTTPClient:        a.httpClient,
		Logger:            logger,
	})
	if err != nil {
		return failure(err)
	}
	retry := cfg.RetryPolicy()
	client, err := llmclient.New(llmclient.Options{
		Provider:   cfg.LLM.Provider,
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Retry:      &retry,
		Logger:     logger,
		HTTPClient: a.httpClient,
	})
	if err != nil {
		return failure(err)
	}
	completer := &llm.Completer{
		Client:      client,
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}
	notifier := notify.New(gh, logger)

	resolver := &identity.Resolver{Issues: gh, LLM: completer, Pattern: cfg.Target.Pattern, Logger: logger}
	id, err := resolver.Resolve(ctx, identity.Input{Issue: cfg.Target.Issue, Path: cfg.Target.Path})
	if err != nil {
		thread := notify.Thread{Issue: cfg.Target.Issue}
		if nerr := notifier.Failure(context.WithoutCancel(ctx), thread, identityFailure(err)); nerr != nil {
			logger.Error("failed to report identity failure", "error", nerr)
		}
		return &failureError{err: err, silent: true}
	}
	logger.Info("target resolved", "path", id.Path, "source", string(id.Source), "issue", id.IssueNumber())

	dir := workDir(cfg)
	if gitutil.IsRepo(dir) && !gitutil.Tracked(dir, id.Path) {
		logger.Warn("target is not committed locally; the base branch may not have it", "path", id.Path)
	}
	branch := identity.BranchName(cfg.Forge.BranchPrefix, id.IssueNumber(), id.Path)
	deps := agent.Deps{
		LLM: completer,
		Publisher: publish.New(gh, publish.Target{
			Branch: branch,
			Base:   cfg.Forge.BaseBranch,
			Issue:  id.IssueNumber(),
		}, logger),
		Tests:    &testrun.Runner{Dir: dir, Shell: cfg.Test.Shell, Logger: logger},
		Files:    workspace.New(a.fs, dir),
		Notifier: notifier,
		Logger:   logger,
	}

	if cfg.Journal.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return failure(fmt.Errorf("journal directory: %w", err))
		}
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return failure(err)
		}
		defer func() { _ = j.Close() }()
		deps.Sinks = append(deps.Sinks, j)
	}
	var m *metrics.Metrics
	if cfg.Metrics.Textfile != "" {
		m = metrics.New()
		deps.Sinks = append(deps.Sinks, m)
	}

	sess, err := agent.NewSession(deps, agent.SessionConfig{
		Target:         id.Path,
		Issue:          id.IssueNumber(),
		RunBudget:      cfg.RunBudget,
		Command:        cfg.TestCommand(),
		PromptTemplate: prompts.Template,
		ExampleDiff:    prompts.ExampleDiff,
	})
	if err != nil {
		return failure(err)
	}
	logger.Info("session starting", "session", sess.ID(), "branch", branch, "budget", cfg.RunBudget)

	out, runErr := sess.Run(ctx)
	if m != nil {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("metrics not written", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("session failed", "session", sess.ID(), "kind", agent.KindOf(runErr), "runs", out.Runs, "error", runErr)
		var ae *agent.Error
		return &failureError{err: runErr, silent: errors.As(runErr, &ae) && ae.Reported}
	}

	_, _ = fmt.Fprintf(a.stdout, "%s (%s) after %d run(s)\n", out.Status, out.Reason, out.Runs)
	if out.PullRequest != nil {
		_, _ = fmt.Fprintf(a.stdout, "pull request: %s\n", out.PullRequest.URL)
	}
	return nil
}

func workDir(cfg *config.Config) string {
	if cfg.Test.Dir == "" {
		return "."
	}
	return cfg.Test.Dir
}

func identityFailure(err error) string {
	var notFound *identity.PathNotFoundError
	switch {
	case errors.As(err, &notFound):
		return notify.AlarmPrefix + "Could not find the file path in the issue body"
	case errors.Is(err, identity.ErrNoIdentity):
		return notify.AlarmPrefix + "Either issue-number or test-file-path must be provided"
	default:
		return notify.AlarmPrefix + "Something went wrong: " + err.Error()
	}
}
