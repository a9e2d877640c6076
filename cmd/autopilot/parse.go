package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/test-prof/autopilot/internal/action"
)

type parseResult struct {
	Status    string `json:"status"`
	Action    string `json:"action,omitempty"`
	Line      int    `json:"line,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	parseComplete    = "complete"
	parseTruncated   = "truncated"
	parseNoAction    = "no_action"
	parseUnsupported = "unsupported"
)

func newParseCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a saved model response the way a session would",
		Long: `Parse reads a model response from file (or stdin when file is "-" or
omitted) and prints the action, rationale and code block it carries.
The exit code is 1 when the response would make a session fail.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(a, args)
			if err != nil {
				return failure(err)
			}
			res := parseResponse(text)
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return failure(err)
				}
			} else {
				printParseResult(a.stdout, res)
			}
			if res.Status == parseUnsupported {
				return &failureError{err: errors.New(res.Error), silent: true}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func readInput(a *app, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(a.stdin)
		return string(b), err
	}
	b, err := afero.ReadFile(a.fs, args[0])
	return string(b), err
}

func parseResponse(text string) parseResult {
	act, err := action.ParseText(text)
	var unsupported *action.UnsupportedError
	switch {
	case errors.Is(err, action.ErrNoAction):
		return parseResult{Status: parseNoAction}
	case errors.As(err, &unsupported):
		return parseResult{Status: parseUnsupported, Action: unsupported.Kind, Line: unsupported.Line + 1, Error: err.Error()}
	case err != nil:
		return parseResult{Status: parseUnsupported, Error: err.Error()}
	}
	res := parseResult{Status: parseComplete, Action: act.Kind, Line: act.Line + 1, Rationale: act.Rationale, Code: act.Code}
	if act.Truncated {
		res.Status = parseTruncated
	}
	return res
}

func printParseResult(w io.Writer, res parseResult) {
	_, _ = fmt.Fprintf(w, "status: %s\n", res.Status)
	if res.Action != "" {
		_, _ = fmt.Fprintf(w, "action: %s (line %d)\n", res.Action, res.Line)
	}
	if res.Error != "" {
		_, _ = fmt.Fprintf(w, "error: %s\n", res.Error)
	}
	if res.Rationale != "" {
		_, _ = fmt.Fprintf(w, "\nrationale:\n%s\n", strings.TrimRight(res.Rationale, "\n"))
	}
	if res.Code != "" {
		_, _ = fmt.Fprintf(w, "\ncode:\n%s", res.Code)
	}
}
