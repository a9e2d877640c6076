package llm

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Content is plain text; the agent protocol
// never sends images, tool calls or thinking blocks.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func User(text string) Message      { return Message{Role: RoleUser, Content: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

type Request struct {
	Provider    string
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return &ConfigurationError{Message: "request has no messages"}
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return &ConfigurationError{Message: fmt.Sprintf("message %d has unsupported role %q", i, m.Role)}
		}
	}
	return nil
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Response struct {
	ID         string
	Provider   string
	Model      string
	Parts      []string
	StopReason string
	Usage      Usage
	Raw        map[string]any
}

// Text joins all text parts with a newline, the way multi-block answers are
// presented to the agent loop.
func (r Response) Text() string {
	return strings.Join(r.Parts, "\n")
}
