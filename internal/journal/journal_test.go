package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/test-prof/autopilot/internal/agent"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func feed(t *testing.T, j *Journal, events ...agent.SessionEvent) {
	t.Helper()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range events {
		if ev.SessionID == "" {
			ev.SessionID = "S1"
		}
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, j.HandleEvent(context.Background(), ev), "event %d %s", i, ev.Kind)
	}
}

func TestJournal_RecordsSessionAndRuns(t *testing.T) {
	j := openTemp(t)
	code := "describe 'x' do\nend\n"

	feed(t, j,
		agent.SessionEvent{Kind: agent.EventSessionStart, Data: map[string]any{"target": "spec/a_spec.rb", "issue": 7, "budget": 4}},
		agent.SessionEvent{Kind: agent.EventRunStart, Run: 1},
		agent.SessionEvent{Kind: agent.EventTruncated, Run: 1, Data: map[string]any{"repeated": false}},
		agent.SessionEvent{Kind: agent.EventRunStart, Run: 2},
		agent.SessionEvent{Kind: agent.EventCandidate, Run: 2, Data: map[string]any{
			"artifact": "spec/a_ai_suggest_2_spec.rb", "code": code, "lines_added": 3, "lines_removed": 1,
		}},
		agent.SessionEvent{Kind: agent.EventPublished, Run: 2, Data: map[string]any{"commit": "c0ffee", "pull_request": 101, "opened": true}},
		agent.SessionEvent{Kind: agent.EventTestResult, Run: 2, Data: map[string]any{"succeeded": true, "exit_code": 0, "output": "1 example"}},
		agent.SessionEvent{Kind: agent.EventSessionEnd, Run: 2, Data: map[string]any{"status": "done", "reason": "completed"}},
	)

	sessions, err := j.Sessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, "S1", s.ID)
	assert.Equal(t, "spec/a_spec.rb", s.Target)
	assert.Equal(t, 7, s.Issue)
	assert.Equal(t, 4, s.Budget)
	assert.Equal(t, "done", s.Status)
	assert.Equal(t, "completed", s.Reason)
	assert.Empty(t, s.ErrorKind)

	runs, err := j.Runs(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].Truncated)
	assert.Empty(t, runs[0].Artifact)

	r := runs[1]
	assert.False(t, r.Truncated)
	assert.Equal(t, "spec/a_ai_suggest_2_spec.rb", r.Artifact)
	assert.Equal(t, Digest(code), r.Digest)
	assert.Equal(t, 3, r.LinesAdded)
	assert.Equal(t, 1, r.LinesRemoved)
	assert.Equal(t, "c0ffee", r.CommitSHA)
	assert.Equal(t, 101, r.PullRequest)
	assert.True(t, r.TestSucceeded)
	assert.Equal(t, "1 example", r.Output)

	stored, err := j.Blob(context.Background(), r.Digest)
	require.NoError(t, err)
	assert.Equal(t, code, stored)
}

func TestJournal_FailedSessionKeepsErrorKind(t *testing.T) {
	j := openTemp(t)
	feed(t, j,
		agent.SessionEvent{Kind: agent.EventSessionStart, Data: map[string]any{"target": "spec/b_spec.rb", "budget": 4}},
		agent.SessionEvent{Kind: agent.EventRunStart, Run: 1},
		agent.SessionEvent{Kind: agent.EventSessionEnd, Run: 1, Data: map[string]any{
			"status": "failed", "reason": "failed", "kind": "protocol", "error": "unsupported action",
		}},
	)

	sessions, err := j.Sessions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "failed", sessions[0].Status)
	assert.Equal(t, "protocol", sessions[0].ErrorKind)
	assert.Equal(t, "unsupported action", sessions[0].Error)
	assert.Equal(t, 0, sessions[0].Issue)
}

func TestJournal_IdenticalCandidatesShareBlob(t *testing.T) {
	j := openTemp(t)
	code := "same\n"
	feed(t, j,
		agent.SessionEvent{Kind: agent.EventSessionStart, Data: map[string]any{"target": "spec/c_spec.rb", "budget": 4}},
		agent.SessionEvent{Kind: agent.EventRunStart, Run: 1},
		agent.SessionEvent{Kind: agent.EventCandidate, Run: 1, Data: map[string]any{"artifact": "a1", "code": code}},
		agent.SessionEvent{Kind: agent.EventRunStart, Run: 2},
		agent.SessionEvent{Kind: agent.EventCandidate, Run: 2, Data: map[string]any{"artifact": "a2", "code": code}},
	)

	var blobs int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM blobs`).Scan(&blobs))
	assert.Equal(t, 1, blobs)

	var events int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = 'S1'`).Scan(&events))
	assert.Equal(t, 5, events)
}

func TestJournal_RunEventWithoutRunStartFails(t *testing.T) {
	j := openTemp(t)
	feed(t, j, agent.SessionEvent{Kind: agent.EventSessionStart, Data: map[string]any{"target": "t", "budget": 1}})

	err := j.HandleEvent(context.Background(), agent.SessionEvent{
		Kind: agent.EventTestResult, SessionID: "S1", Run: 3, Timestamp: time.Now(),
		Data: map[string]any{"succeeded": false},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run 3")
}

func TestBlob_Missing(t *testing.T) {
	j := openTemp(t)
	_, err := j.Blob(context.Background(), Digest("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDigest_IsStableHex(t *testing.T) {
	d := Digest("abc")
	assert.Len(t, d, 64)
	assert.Equal(t, d, Digest("abc"))
	assert.NotEqual(t, d, Digest("abd"))
}

func TestOpen_ReopensExistingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path)
	require.NoError(t, err)
	feed(t, j, agent.SessionEvent{Kind: agent.EventSessionStart, Data: map[string]any{"target": "t", "budget": 1}})
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = j2.Close() }()
	sessions, err := j2.Sessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
