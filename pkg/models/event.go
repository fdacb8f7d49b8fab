package models

// EventType identifies the kind of progress event fanned out to subscribers.
type EventType string

const (
	EventToolUse            EventType = "toolUse"
	EventToolResult         EventType = "toolResult"
	EventSessionTitleUpdate EventType = "sessionTitleUpdate"
	EventMessage            EventType = "message"
)

// AgentEvent is one progress event published to the event bus. Fields are
// populated according to Type; unused fields are omitted on the wire.
type AgentEvent struct {
	Type EventType `json:"type"`

	// toolUse
	ToolName       string `json:"toolName,omitempty"`
	ToolUseID      string `json:"toolUseId,omitempty"`
	Input          string `json:"input,omitempty"` // stringified JSON
	ThinkingBudget int    `json:"thinkingBudget,omitempty"`
	ReasoningText  string `json:"reasoningText,omitempty"`

	// toolResult
	Output string `json:"output,omitempty"`

	// sessionTitleUpdate
	NewTitle string `json:"newTitle,omitempty"`

	// message
	Role Role   `json:"role,omitempty"`
	Text string `json:"text,omitempty"`
}

// NewMessageEvent builds a plain message event.
func NewMessageEvent(role Role, text string) AgentEvent {
	return AgentEvent{Type: EventMessage, Role: role, Text: text}
}
