package core

import "time"

// Message roles as persisted in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCallDetail records one tool invocation made while producing an
// assistant message, including the recorded result so providers can replay
// the call/response pairing when rebuilding conversation context.
type ToolCallDetail struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Message is one persisted conversation entry. Session stores replace the
// whole ordered list on every write; there is no partial-append primitive.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Reasoning string           `json:"reasoning,omitempty"`
	ToolCalls []ToolCallDetail `json:"tool_calls,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewUserMessage creates a user-authored message with a fresh id.
func NewUserMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleUser, Content: text, CreatedAt: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message with a fresh id.
func NewAssistantMessage(text string) Message {
	return Message{ID: NewID(), Role: RoleAssistant, Content: text, CreatedAt: time.Now().UTC()}
}

// CloneMessages deep-copies a history slice so callers can prune or truncate
// without mutating the persisted view.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].ToolCalls = append([]ToolCallDetail(nil), m.ToolCalls...)
	}
	return out
}
