package agent

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// KindConfiguration covers missing inputs and a broken test setup found
	// before the first LLM turn.
	KindConfiguration ErrorKind = "configuration"
	// KindProtocol is a directive the agent cannot execute.
	KindProtocol ErrorKind = "protocol"
	// KindTruncation is the second consecutive response without a sentinel.
	KindTruncation ErrorKind = "truncation"
	// KindBackend is a failing LLM, forge or test-process call. A test run
	// that exits non-zero is not one.
	KindBackend ErrorKind = "backend"
	KindInternal ErrorKind = "internal"
)

// Error is the only error type Session.Run returns.
type Error struct {
	Kind ErrorKind
	Err  error
	// Reported is set once the failure notice has been delivered, so the
	// process boundary does not print it a second time.
	Reported bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " error"
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

var errRepeatedTruncation = errors.New("failed to receive an updated test file from LLM")
