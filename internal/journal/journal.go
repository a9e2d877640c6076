// Package journal records every session and run in SQLite so each attempt
// can be inspected after the fact. Candidate code is stored once per
// blake3 digest.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/test-prof/autopilot/internal/agent"
)

//go:embed schema.sql
var schema string

type Journal struct {
	db *sql.DB
}

// Open creates or migrates the journal at path.
func Open(path string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// One session writes at a time.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Digest is the hex blake3 hash used as the blob key.
func Digest(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HandleEvent implements agent.EventSink.
func (j *Journal) HandleEvent(ctx context.Context, ev agent.SessionEvent) error {
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	if err := j.apply(ctx, ev, ts); err != nil {
		return fmt.Errorf("journal %s: %w", ev.Kind, err)
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("journal %s: encode data: %w", ev.Kind, err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO events (session_id, run, kind, ts, data) VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Run, string(ev.Kind), ts, string(data))
	return err
}

func (j *Journal) apply(ctx context.Context, ev agent.SessionEvent, ts string) error {
	d := ev.Data
	switch ev.Kind {
	case agent.EventSessionStart:
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO sessions (id, target, issue, budget, started_at) VALUES (?, ?, ?, ?, ?)`,
			ev.SessionID, str(d, "target"), num(d, "issue"), num(d, "budget"), ts)
		return err
	case agent.EventRunStart:
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO runs (session_id, run, started_at) VALUES (?, ?, ?)`,
			ev.SessionID, ev.Run, ts)
		return err
	case agent.EventTruncated:
		return j.updateRun(ctx, ev, `truncated = 1`)
	case agent.EventCandidate:
		code := str(d, "code")
		digest := Digest(code)
		if _, err := j.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO blobs (digest, size, content) VALUES (?, ?, ?)`,
			digest, len(code), []byte(code)); err != nil {
			return err
		}
		return j.updateRun(ctx, ev, `artifact = ?, digest = ?, lines_added = ?, lines_removed = ?`,
			str(d, "artifact"), digest, num(d, "lines_added"), num(d, "lines_removed"))
	case agent.EventPublished:
		return j.updateRun(ctx, ev, `commit_sha = ?, pull_request = ?`, str(d, "commit"), num(d, "pull_request"))
	case agent.EventTestResult:
		return j.updateRun(ctx, ev, `test_succeeded = ?, exit_code = ?, output = ?, finished_at = ?`,
			boolean(d, "succeeded"), num(d, "exit_code"), str(d, "output"), ts)
	case agent.EventSessionEnd:
		_, err := j.db.ExecContext(ctx,
			`UPDATE sessions SET ended_at = ?, status = ?, reason = ?, error_kind = ?, error = ? WHERE id = ?`,
			ts, str(d, "status"), str(d, "reason"), nullable(str(d, "kind")), nullable(str(d, "error")), ev.SessionID)
		return err
	}
	return nil
}

func (j *Journal) updateRun(ctx context.Context, ev agent.SessionEvent, set string, args ...any) error {
	args = append(args, ev.SessionID, ev.Run)
	res, err := j.db.ExecContext(ctx, `UPDATE runs SET `+set+` WHERE session_id = ? AND run = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no run %d recorded for session %s", ev.Run, ev.SessionID)
	}
	return nil
}

type Session struct {
	ID        string
	Target    string
	Issue     int
	Budget    int
	StartedAt time.Time
	Status    string
	Reason    string
	ErrorKind string
	Error     string
}

type Run struct {
	Run           int
	Truncated     bool
	Artifact      string
	Digest        string
	LinesAdded    int
	LinesRemoved  int
	CommitSHA     string
	PullRequest   int
	TestSucceeded bool
	ExitCode      int
	Output        string
}

var ErrNotFound = errors.New("not found in journal")

// Sessions lists the most recent sessions first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, target, issue, budget, started_at,
		       COALESCE(status, ''), COALESCE(reason, ''), COALESCE(error_kind, ''), COALESCE(error, '')
		FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Session
	for rows.Next() {
		var s Session
		var started string
		if err := rows.Scan(&s.ID, &s.Target, &s.Issue, &s.Budget, &started, &s.Status, &s.Reason, &s.ErrorKind, &s.Error); err != nil {
			return nil, err
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (j *Journal) Runs(ctx context.Context, sessionID string) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run, truncated, COALESCE(artifact, ''), COALESCE(digest, ''),
		       COALESCE(lines_added, 0), COALESCE(lines_removed, 0), COALESCE(commit_sha, ''),
		       COALESCE(pull_request, 0), COALESCE(test_succeeded, 0), COALESCE(exit_code, 0), COALESCE(output, '')
		FROM runs WHERE session_id = ? ORDER BY run`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.Run, &r.Truncated, &r.Artifact, &r.Digest, &r.LinesAdded, &r.LinesRemoved,
			&r.CommitSHA, &r.PullRequest, &r.TestSucceeded, &r.ExitCode, &r.Output); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Blob returns the candidate code stored under digest.
func (j *Journal) Blob(ctx context.Context, digest string) (string, error) {
	var content []byte
	err := j.db.QueryRowContext(ctx, `SELECT content FROM blobs WHERE digest = ?`, digest).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func str(d map[string]any, key string) string {
	s, _ := d[key].(string)
	return s
}

func num(d map[string]any, key string) int64 {
	switch v := d[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func boolean(d map[string]any, key string) bool {
	b, _ := d[key].(bool)
	return b
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
