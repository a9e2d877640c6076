package agent

import "github.com/test-prof/autopilot/internal/llm"

type TurnKind string

const (
	TurnUserInput   TurnKind = "USER_INPUT"
	TurnAssistant   TurnKind = "ASSISTANT"
	TurnObservation TurnKind = "OBSERVATION"
)

// Turn is the Session's typed history item. Observations are kept distinct
// for observability but are sent as user-role messages.
type Turn struct {
	Kind    TurnKind
	Message llm.Message
}

// Conversation is append-only for the lifetime of a session.
type Conversation struct {
	turns []Turn
}

func (c *Conversation) Append(kind TurnKind, m llm.Message) {
	c.turns = append(c.turns, Turn{Kind: kind, Message: m})
}

func (c *Conversation) Len() int { return len(c.turns) }

func (c *Conversation) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Messages is the history in the shape the LLM port expects.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(c.turns))
	for _, t := range c.turns {
		out = append(out, t.Message)
	}
	return out
}
