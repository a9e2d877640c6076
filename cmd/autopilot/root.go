package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// failureError marks an operational failure (exit 1) as opposed to a usage
// mistake (exit 2). Silent failures were already reported to the user.
type failureError struct {
	err    error
	silent bool
}

func (e *failureError) Error() string { return e.err.Error() }
func (e *failureError) Unwrap() error { return e.err }

func failure(err error) error { return &failureError{err: err} }

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	fs     afero.Fs
	// httpClient is shared by the forge and LLM adapters; nil means their
	// defaults.
	httpClient *http.Client

	logger    *slog.Logger
	logCloser io.Closer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		getenv: getenv,
		fs:     afero.NewOsFs(),
		logger: slog.New(slog.NewTextHandler(stderr, nil)),
	}
}

type logOptions struct {
	Level  LogLevel
	Format LogFormat
	File   string
}

func newRootCmd(a *app) *cobra.Command {
	opts := logOptions{Level: LogLevelInfo, Format: LogFormatText}
	cmd := &cobra.Command{
		Use:           "autopilot",
		Short:         "Let an LLM optimize a slow test file, one verified run at a time.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogging(opts)
		},
	}
	cmd.PersistentFlags().Var(&opts.Level, "log-level", `log level: "debug", "info", "warn" or "error"`)
	cmd.PersistentFlags().Var(&opts.Format, "log-format", `log format: "text" or "json"`)
	cmd.PersistentFlags().StringVar(&opts.File, "log-file", "", "also write logs to this file, rotated")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newParseCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newVersionCmd(a))
	return cmd
}

func (a *app) setupLogging(opts logOptions) error {
	var w io.Writer = a.stderr
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		}
		a.logCloser = lj
		w = io.MultiWriter(a.stderr, lj)
	}
	hopts := &slog.HandlerOptions{Level: opts.Level.SlogLevel()}
	switch opts.Format {
	case LogFormatJSON:
		a.logger = slog.New(slog.NewJSONHandler(w, hopts))
	default:
		a.logger = slog.New(slog.NewTextHandler(w, hopts))
	}
	return nil
}

func (a *app) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}

func execute(ctx context.Context, args []string, a *app) int {
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var fe *failureError
	if errors.As(err, &fe) {
		if !fe.silent {
			_, _ = fmt.Fprintln(a.stderr, "Error:", fe.err)
		}
		return exitFailure
	}
	_, _ = fmt.Fprintln(a.stderr, "Error:", err)
	_, _ = fmt.Fprintln(a.stderr, "Run 'autopilot --help' for usage.")
	return exitUsage
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (e *LogLevel) String() string {
	if e == nil {
		return ""
	}
	return string(*e)
}

func (e *LogLevel) Set(v string) error {
	for _, level := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError} {
		if v == string(level) {
			*e = level
			return nil
		}
	}
	return errors.New(`must be one of "debug", "info", "warn", or "error"`)
}

func (e *LogLevel) Type() string { return "log-level" }

func (e *LogLevel) SlogLevel() slog.Level {
	switch *e {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

func (f *LogFormat) String() string {
	if f == nil {
		return ""
	}
	return string(*f)
}

func (f *LogFormat) Set(v string) error {
	switch LogFormat(v) {
	case LogFormatText, LogFormatJSON:
		*f = LogFormat(v)
		return nil
	}
	return errors.New(`must be "text" or "json"`)
}

func (f *LogFormat) Type() string { return "log-format" }
