// Package llm invokes the model provider behind one neutral call shape:
// input normalization, cache-point pruning, reasoning budgets, account
// rotation on throttle, and token tracking.
package llm

import (
	"github.com/remoteswe/worker/pkg/models"
)

// Message is one conversation entry in a provider request. Content blocks
// follow the closed sum in pkg/models; cache-point blocks mark prefix
// boundaries the provider may cache.
type Message struct {
	Role    models.Role
	Content []models.ContentBlock
}

// SystemBlock is one system-prompt segment.
type SystemBlock struct {
	Text       string
	CachePoint bool
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
	CachePoint  bool
}

// ToolChoiceKind selects how the model is forced to use tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceTool ToolChoiceKind = "tool"
)

// ToolChoice constrains the model's tool selection. Name is set only for
// ToolChoiceTool.
type ToolChoice struct {
	Kind ToolChoiceKind
	Name string
}

// InferenceConfig holds per-call sampling parameters. MaxTokens of zero
// means the adjusted default.
type InferenceConfig struct {
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Request is the provider-neutral converse input.
type Request struct {
	Messages   []Message
	System     []SystemBlock
	Tools      []ToolSpec
	ToolChoice *ToolChoice
	Inference  InferenceConfig
}

// StopReason is the provider's reason for ending generation, unified across
// back ends.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Response is the provider-neutral converse output.
type Response struct {
	Content    []models.ContentBlock
	StopReason StopReason
	Usage      models.Usage
	ModelID    string
}

// Result pairs a response with the thinking budget that produced it. The
// budget is reported only when the non-default (ultra) budget was used, so
// observers can surface it.
type Result struct {
	Response       *Response
	ThinkingBudget int
}
