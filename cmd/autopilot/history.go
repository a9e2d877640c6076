package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/test-prof/autopilot/internal/journal"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		path  string
		limit int
		blob  bool
	)
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List recorded sessions, or the runs of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = a.getenv("AUTOPILOT_JOURNAL")
			}
			if path == "" {
				return errors.New("--journal is required")
			}
			if _, err := os.Stat(path); err != nil {
				return failure(fmt.Errorf("journal: %w", err))
			}
			j, err := journal.Open(path)
			if err != nil {
				return failure(err)
			}
			defer func() { _ = j.Close() }()

			ctx := cmd.Context()
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			defer func() { _ = tw.Flush() }()

			if len(args) == 0 {
				sessions, err := j.Sessions(ctx, limit)
				if err != nil {
					return failure(err)
				}
				_, _ = fmt.Fprintln(tw, "SESSION\tSTARTED\tTARGET\tISSUE\tSTATUS\tREASON")
				for _, s := range sessions {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Target, issueLabel(s.Issue), dash(s.Status), dash(s.Reason))
				}
				return nil
			}

			runs, err := j.Runs(ctx, args[0])
			if err != nil {
				return failure(err)
			}
			if len(runs) == 0 {
				return failure(fmt.Errorf("session %s: %w", args[0], journal.ErrNotFound))
			}
			if blob {
				var last *journal.Run
				for i := range runs {
					if runs[i].Digest != "" {
						last = &runs[i]
					}
				}
				if last == nil {
					return failure(fmt.Errorf("session %s has no candidate code", args[0]))
				}
				code, err := j.Blob(ctx, last.Digest)
				if err != nil {
					return failure(fmt.Errorf("run %d: %w", last.Run, err))
				}
				_, err = fmt.Fprint(a.stdout, code)
				return err
			}
			_, _ = fmt.Fprintln(tw, "RUN\tARTIFACT\tDIFF\tCOMMIT\tTEST\tDIGEST")
			for _, r := range runs {
				test := "failed"
				switch {
				case r.Truncated:
					test = "truncated"
				case r.TestSucceeded:
					test = "passed"
				}
				_, _ = fmt.Fprintf(tw, "%d\t%s\t+%d -%d\t%s\t%s\t%s\n",
					r.Run, dash(r.Artifact), r.LinesAdded, r.LinesRemoved, dash(short(r.CommitSHA)), test, dash(short(r.Digest)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "journal file (default: $AUTOPILOT_JOURNAL)")
	cmd.Flags().IntVar(&limit, "limit", 20, "sessions to list")
	cmd.Flags().BoolVar(&blob, "code", false, "print the last candidate's code instead of the run table")
	return cmd
}

func issueLabel(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("#%d", n)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
