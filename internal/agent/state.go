package agent

import "github.com/test-prof/autopilot/internal/forge"

// State is the mutable part of a session. It lives for one Run and is only
// touched by the loop goroutine.
type State struct {
	Runs int
	// PreviousCode is the last published version of the target, starting
	// with the file as read from disk.
	PreviousCode string
	// Truncated is set when the previous turn was rejected for missing its
	// sentinel. It is never true for two turns in a row.
	Truncated   bool
	PullRequest *forge.PullRequest
}

func (s *State) PullRequestNumber() int {
	if s.PullRequest == nil {
		return 0
	}
	return s.PullRequest.Number
}

type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

type Reason string

const (
	ReasonCompleted       Reason = "completed"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonFailed          Reason = "failed"
)

type Outcome struct {
	SessionID string
	Status    Status
	Reason    Reason
	Runs      int
	// Summary is the final assistant response when the model ended the
	// session on its own.
	Summary     string
	PullRequest *forge.PullRequest
}
