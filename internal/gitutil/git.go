// Package gitutil reads repository facts from a local checkout so a run
// started inside one needs less configuration.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func RemoteURL(dir, remote string) (string, error) {
	out, _, err := runGit(dir, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DefaultBranch is the branch remote's HEAD points at, e.g. "main". It needs
// refs/remotes/<remote>/HEAD, which clone sets up.
func DefaultBranch(dir, remote string) (string, error) {
	out, _, err := runGit(dir, "symbolic-ref", "--short", "refs/remotes/"+remote+"/HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(strings.TrimSpace(out), remote+"/"), nil
}

// Tracked reports whether path is committed in the checkout at dir.
func Tracked(dir, path string) bool {
	_, _, err := runGit(dir, "ls-files", "--error-unmatch", "--", path)
	return err == nil
}

var repoURLRe = regexp.MustCompile(`^(?:https?://[^/]+/|ssh://(?:[^@/]+@)?[^/]+/|[^@:/]+@[^:]+:)([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseRepository extracts "owner/name" from an HTTPS or SSH remote URL.
func ParseRepository(remoteURL string) (string, bool) {
	m := repoURLRe.FindStringSubmatch(strings.TrimSpace(remoteURL))
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}
