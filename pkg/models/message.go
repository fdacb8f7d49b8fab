package models

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType classifies a conversation item beyond its role. A toolUse item
// is always immediately followed by exactly one toolResult item referencing
// the same tool-use IDs.
type MessageType string

const (
	MessageTypeUser              MessageType = "userMessage"
	MessageTypeAssistantResponse MessageType = "assistantResponse"
	MessageTypeToolUse           MessageType = "toolUse"
	MessageTypeToolResult        MessageType = "toolResult"
)

// ToolResultStatus reports whether a tool invocation succeeded.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// ImageFormat identifies the encoding of image bytes in a content block.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatGIF  ImageFormat = "gif"
	ImageFormatWebP ImageFormat = "webp"
)

// ContentBlock is the closed sum of block kinds that make up message content.
// Exactly one field is non-nil.
type ContentBlock struct {
	Text       *TextBlock       `json:"text,omitempty" dynamodbav:"text,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty" dynamodbav:"image,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty" dynamodbav:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty" dynamodbav:"toolResult,omitempty"`
	Reasoning  *ReasoningBlock  `json:"reasoning,omitempty" dynamodbav:"reasoning,omitempty"`
	CachePoint *CachePointBlock `json:"cachePoint,omitempty" dynamodbav:"cachePoint,omitempty"`
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string `json:"text" dynamodbav:"text"`
}

// ImageBlock carries raw image bytes and their format.
type ImageBlock struct {
	Format ImageFormat `json:"format" dynamodbav:"format"`
	Bytes  []byte      `json:"bytes" dynamodbav:"bytes"`
}

// ToolUseBlock is an assistant request to execute a tool.
type ToolUseBlock struct {
	ToolUseID string         `json:"toolUseId" dynamodbav:"toolUseId"`
	Name      string         `json:"name" dynamodbav:"name"`
	Input     map[string]any `json:"input" dynamodbav:"input"`
}

// ToolResultContent is one part of a tool result: text or an image.
type ToolResultContent struct {
	Text  *TextBlock  `json:"text,omitempty" dynamodbav:"text,omitempty"`
	Image *ImageBlock `json:"image,omitempty" dynamodbav:"image,omitempty"`
}

// ToolResultBlock is the outcome of an executed tool, referencing its
// originating tool use by ID.
type ToolResultBlock struct {
	ToolUseID string              `json:"toolUseId" dynamodbav:"toolUseId"`
	Content   []ToolResultContent `json:"content" dynamodbav:"content"`
	Status    ToolResultStatus    `json:"status" dynamodbav:"status"`
}

// ReasoningBlock carries extended-thinking text with its provider signature.
type ReasoningBlock struct {
	Text      string `json:"text" dynamodbav:"text"`
	Signature string `json:"signature,omitempty" dynamodbav:"signature,omitempty"`
}

// CachePointBlock marks a prefix boundary the provider may cache.
type CachePointBlock struct{}

// MessageItem is one record in a session's append-only conversation log.
// Sort keys are strictly increasing within a session; items are never
// mutated after append except to overwrite TokenCount.
type MessageItem struct {
	SK             string         `json:"SK" dynamodbav:"SK"`
	Role           Role           `json:"role" dynamodbav:"role"`
	MessageType    MessageType    `json:"messageType" dynamodbav:"messageType"`
	Content        []ContentBlock `json:"content" dynamodbav:"content"`
	TokenCount     int64          `json:"tokenCount" dynamodbav:"tokenCount"`
	ModelOverride  string         `json:"modelOverride,omitempty" dynamodbav:"modelOverride,omitempty"`
	ThinkingBudget int            `json:"thinkingBudget,omitempty" dynamodbav:"thinkingBudget,omitempty"`
	CreatedAt      int64          `json:"createdAt" dynamodbav:"createdAt"`
}

// TextContent returns the concatenated text of all text blocks in the item.
func (m *MessageItem) TextContent() string {
	out := ""
	for _, block := range m.Content {
		if block.Text != nil {
			out += block.Text.Text
		}
	}
	return out
}

// ToolUses returns all tool-use blocks in the item.
func (m *MessageItem) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range m.Content {
		if block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// NewTextItem builds a message item holding a single text block.
func NewTextItem(role Role, messageType MessageType, text string) *MessageItem {
	return &MessageItem{
		Role:        role,
		MessageType: messageType,
		Content:     []ContentBlock{{Text: &TextBlock{Text: text}}},
	}
}
