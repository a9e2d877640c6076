package agent

import (
	"context"
	"time"
)

type EventKind string

const (
	EventSessionStart    EventKind = "SESSION_START"
	EventBaseline        EventKind = "BASELINE"
	EventRunStart        EventKind = "RUN_START"
	EventAssistantText   EventKind = "ASSISTANT_TEXT"
	EventTruncated       EventKind = "TRUNCATED"
	EventCandidate       EventKind = "CANDIDATE"
	EventPublished       EventKind = "PUBLISHED"
	EventTestResult      EventKind = "TEST_RESULT"
	EventBudgetExhausted EventKind = "BUDGET_EXHAUSTED"
	EventSessionEnd      EventKind = "SESSION_END"
	EventError           EventKind = "ERROR"
)

type SessionEvent struct {
	Kind      EventKind
	Timestamp time.Time
	SessionID string
	Run       int
	Data      map[string]any
}

// EventSink receives every event synchronously, in order. A sink error is
// logged and otherwise ignored.
type EventSink interface {
	HandleEvent(ctx context.Context, ev SessionEvent) error
}

type EventSinkFunc func(ctx context.Context, ev SessionEvent) error

func (f EventSinkFunc) HandleEvent(ctx context.Context, ev SessionEvent) error { return f(ctx, ev) }
