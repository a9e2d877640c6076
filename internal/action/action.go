// Package action extracts the directive an assistant turn asks the agent to
// perform, plus the code block that goes with it.
//
// The format is prose followed by a marker line and a sentinel-terminated body:
//
//	I'll switch the factories to let_it_be.
//	Action: run_test
//	<full file contents>
//	__END__
//
// Matching is deliberately lenient: the first "Action:" line wins and the
// sentinel is a substring match, so "__END__" anywhere in a body line ends the
// block.
package action

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	RunTest  = "run_test"
	Sentinel = "__END__"
)

var directiveRe = regexp.MustCompile(`^Action: (\w+)$`)

// ErrNoAction means the response carries no directive. Callers treat it as
// the model declaring it is finished.
var ErrNoAction = errors.New("no action in response")

type UnsupportedError struct {
	Kind string
	Line int
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported action %q on line %d", e.Kind, e.Line+1)
}

type Action struct {
	Kind string
	// Line is the zero-based index of the directive line.
	Line      int
	Rationale string
	Code      string
	// Truncated is set when the directive was found but the sentinel never
	// arrived; Code is empty in that case.
	Truncated bool
}

// Complete reports whether a usable code block was extracted.
func (a Action) Complete() bool { return !a.Truncated }

// ParseText splits text on "\n" and parses the lines.
func ParseText(text string) (Action, error) {
	return Parse(strings.Split(text, "\n"))
}

// Parse locates the first directive among lines. It returns ErrNoAction when
// none exists and *UnsupportedError for any directive other than run_test.
func Parse(lines []string) (Action, error) {
	at, kind := -1, ""
	for i, line := range lines {
		if m := directiveRe.FindStringSubmatch(line); m != nil {
			at, kind = i, m[1]
			break
		}
	}
	if at < 0 {
		return Action{}, ErrNoAction
	}
	if kind != RunTest {
		return Action{}, &UnsupportedError{Kind: kind, Line: at}
	}

	a := Action{
		Kind:      kind,
		Line:      at,
		Rationale: strings.Join(lines[:at], "\n"),
	}
	end := -1
	for j := at + 1; j < len(lines); j++ {
		if strings.Contains(lines[j], Sentinel) {
			end = j
			break
		}
	}
	if end < 0 {
		a.Truncated = true
		return a, nil
	}
	a.Code = strings.Join(lines[at+1:end], "\n") + "\n"
	return a, nil
}
