package llm

import (
	"strings"

	"github.com/remoteswe/worker/pkg/models"
)

const (
	defaultMaxOutputTokens = 8192
	defaultReasoningBudget = 2000
	ultraReasoningCap      = 31999
	ultrathinkKeyword      = "ultrathink"
)

// reasoningConfig is the normalized extended-thinking setting for one call.
type reasoningConfig struct {
	Enabled      bool
	BudgetTokens int
	Interleaved  bool
	Ultra        bool
}

// normalize deep-clones the request and rewrites it for the chosen model:
// unsupported toolChoice is dropped, the output budget is escalated by retry
// count, reasoning is gated and budgeted, and cache markers the model cannot
// honor are pruned. The input request is never modified.
func normalize(req *Request, cap Capability, maxTokensRetryCount int) (*Request, reasoningConfig) {
	out := cloneRequest(req)

	if out.ToolChoice != nil && !cap.SupportsToolChoice(out.ToolChoice.Kind) {
		out.ToolChoice = nil
	}

	adjustedMax := defaultMaxOutputTokens << maxTokensRetryCount
	if adjustedMax > cap.MaxOutputTokens {
		adjustedMax = cap.MaxOutputTokens
	}

	reasoning := reasoningConfig{}
	if cap.ReasoningSupport && out.ToolChoice == nil && !midToolChainWithoutReasoning(out.Messages) {
		reasoning.Enabled = true
		reasoning.Interleaved = cap.InterleavedThinkingSupport
		reasoning.BudgetTokens = defaultReasoningBudget
		if lastUserTextContains(out.Messages, ultrathinkKeyword) {
			budget := cap.MaxOutputTokens / 2
			if budget > ultraReasoningCap {
				budget = ultraReasoningCap
			}
			reasoning.BudgetTokens = budget
			reasoning.Ultra = true
		}
		// The output budget must leave room for thinking tokens.
		floor := 2 * reasoning.BudgetTokens
		if floor > cap.MaxOutputTokens {
			floor = cap.MaxOutputTokens
		}
		if adjustedMax < floor {
			adjustedMax = floor
		}
	} else {
		stripReasoningBlocks(out.Messages)
	}
	out.Inference.MaxTokens = adjustedMax

	if !cap.SupportsCache(CacheLayerSystem) {
		for i := range out.System {
			out.System[i].CachePoint = false
		}
	}
	if !cap.SupportsCache(CacheLayerTool) {
		for i := range out.Tools {
			out.Tools[i].CachePoint = false
		}
	}
	if !cap.SupportsCache(CacheLayerMessage) {
		for i := range out.Messages {
			out.Messages[i].Content = dropCachePoints(out.Messages[i].Content)
		}
	}

	return out, reasoning
}

// midToolChainWithoutReasoning reports whether the second-to-last message is
// a tool use with no reasoning block ahead of it. Injecting reasoning into
// such an in-progress chain would break the provider's block ordering rules.
func midToolChainWithoutReasoning(messages []Message) bool {
	if len(messages) < 2 {
		return false
	}
	m := messages[len(messages)-2]
	hasToolUse := false
	for _, block := range m.Content {
		if block.Reasoning != nil {
			return false
		}
		if block.ToolUse != nil {
			hasToolUse = true
			break
		}
	}
	return hasToolUse
}

// lastUserTextContains reports whether the latest user-role text mentions
// the keyword, case-insensitively.
func lastUserTextContains(messages []Message, keyword string) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleUser {
			continue
		}
		text := ""
		for _, block := range messages[i].Content {
			if block.Text != nil {
				text += block.Text.Text
			}
		}
		if text == "" {
			continue
		}
		return strings.Contains(strings.ToLower(text), keyword)
	}
	return false
}

func stripReasoningBlocks(messages []Message) {
	for i := range messages {
		kept := messages[i].Content[:0]
		for _, block := range messages[i].Content {
			if block.Reasoning != nil {
				continue
			}
			kept = append(kept, block)
		}
		messages[i].Content = kept
	}
}

func dropCachePoints(content []models.ContentBlock) []models.ContentBlock {
	kept := content[:0]
	for _, block := range content {
		if block.CachePoint != nil {
			continue
		}
		kept = append(kept, block)
	}
	return kept
}

func cloneRequest(req *Request) *Request {
	out := &Request{Inference: req.Inference}
	if req.Inference.Temperature != nil {
		t := *req.Inference.Temperature
		out.Inference.Temperature = &t
	}
	if req.Inference.TopP != nil {
		p := *req.Inference.TopP
		out.Inference.TopP = &p
	}
	if req.ToolChoice != nil {
		tc := *req.ToolChoice
		out.ToolChoice = &tc
	}
	out.System = append([]SystemBlock(nil), req.System...)
	out.Tools = make([]ToolSpec, len(req.Tools))
	for i, tool := range req.Tools {
		out.Tools[i] = tool
		out.Tools[i].InputSchema = cloneMap(tool.InputSchema)
	}
	out.Messages = make([]Message, len(req.Messages))
	for i, msg := range req.Messages {
		out.Messages[i] = Message{Role: msg.Role, Content: cloneContent(msg.Content)}
	}
	return out
}

func cloneContent(content []models.ContentBlock) []models.ContentBlock {
	out := make([]models.ContentBlock, len(content))
	for i, block := range content {
		clone := models.ContentBlock{}
		if block.Text != nil {
			v := *block.Text
			clone.Text = &v
		}
		if block.Image != nil {
			v := *block.Image
			v.Bytes = append([]byte(nil), block.Image.Bytes...)
			clone.Image = &v
		}
		if block.ToolUse != nil {
			v := *block.ToolUse
			v.Input = cloneMap(block.ToolUse.Input)
			clone.ToolUse = &v
		}
		if block.ToolResult != nil {
			v := *block.ToolResult
			v.Content = make([]models.ToolResultContent, len(block.ToolResult.Content))
			for j, part := range block.ToolResult.Content {
				v.Content[j] = models.ToolResultContent{}
				if part.Text != nil {
					t := *part.Text
					v.Content[j].Text = &t
				}
				if part.Image != nil {
					img := *part.Image
					img.Bytes = append([]byte(nil), part.Image.Bytes...)
					v.Content[j].Image = &img
				}
			}
			clone.ToolResult = &v
		}
		if block.Reasoning != nil {
			v := *block.Reasoning
			clone.Reasoning = &v
		}
		if block.CachePoint != nil {
			v := *block.CachePoint
			clone.CachePoint = &v
		}
		out[i] = clone
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
