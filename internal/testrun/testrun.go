// Package testrun executes the project's test command and captures what it
// printed. A failing test run is a normal result, not an error.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
)

type Result struct {
	Succeeded bool
	ExitCode  int
	// Output is stdout and stderr joined with "\n"; empty streams are skipped.
	Output   string
	Duration time.Duration
}

// CommandError is returned when the command could not be run at all, as
// opposed to running and exiting non-zero.
type CommandError struct {
	CommandLine string
	Stderr      string
	Err         error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("run %q: %v", e.CommandLine, e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Command describes how one test file is run.
type Command struct {
	// Env holds NAME=value assignments placed in front of the command line,
	// e.g. FPROF=1 RD_PROF=1 for profiling runs.
	Env []string
	// Prefix is a shell fragment such as "bundle exec rspec"; it is used
	// verbatim so users can pass their own flags.
	Prefix string
}

// Line renders the shell command line for path. The path is quoted; env
// assignments and prefix are not.
func (c Command) Line(path string) string {
	parts := make([]string, 0, len(c.Env)+2)
	parts = append(parts, c.Env...)
	if p := strings.TrimSpace(c.Prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, shellquote.Join(path))
	return strings.Join(parts, " ")
}

type Runner struct {
	// Dir is the working directory; empty means the current one.
	Dir    string
	Shell  string
	Logger *slog.Logger
}

func (r *Runner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	return "/bin/sh"
}

// Run executes commandLine through the shell and blocks until it exits.
// Cancelling ctx kills the whole process group.
func (r *Runner) Run(ctx context.Context, commandLine string) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("running command", "command", commandLine)

	cmd := exec.CommandContext(ctx, r.shell(), "-c", commandLine)
	cmd.Dir = r.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Output:   joinOutput(stdout.String(), stderr.String()),
		Duration: time.Since(start),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Succeeded = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, &CommandError{CommandLine: commandLine, Stderr: stderr.String(), Err: err}
	}
	logger.Info("command finished", "command", commandLine, "succeeded", res.Succeeded, "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

func joinOutput(stdout, stderr string) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{stdout, stderr} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
