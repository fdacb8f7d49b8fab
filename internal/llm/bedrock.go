package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/remoteswe/worker/pkg/models"
)

const interleavedThinkingBeta = "interleaved-thinking-2025-05-14"

// BedrockProvider issues Converse calls against AWS Bedrock. Accounts are
// drawn from the rotation pool so a throttled account is skipped on retry.
type BedrockProvider struct {
	pool   *AccountPool
	logger *slog.Logger
}

// NewBedrockProvider creates the Bedrock back end over the account pool.
func NewBedrockProvider(pool *AccountPool, logger *slog.Logger) *BedrockProvider {
	return &BedrockProvider{pool: pool, logger: logger}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Converse(ctx context.Context, modelID string, req *Request, reasoning reasoningConfig) (*Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: bedrockMessages(req.Messages),
	}
	if len(req.System) > 0 {
		input.System = bedrockSystem(req.System)
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools, req.ToolChoice)
	}

	infer := &types.InferenceConfiguration{}
	if req.Inference.MaxTokens > 0 {
		infer.MaxTokens = aws.Int32(int32(req.Inference.MaxTokens))
	}
	if req.Inference.Temperature != nil {
		infer.Temperature = aws.Float32(float32(*req.Inference.Temperature))
	}
	if req.Inference.TopP != nil {
		infer.TopP = aws.Float32(float32(*req.Inference.TopP))
	}
	input.InferenceConfig = infer

	if reasoning.Enabled {
		fields := map[string]any{
			"reasoning_config": map[string]any{
				"type":          "enabled",
				"budget_tokens": reasoning.BudgetTokens,
			},
		}
		if reasoning.Interleaved {
			fields["anthropic_beta"] = []string{interleavedThinkingBeta}
		}
		input.AdditionalModelRequestFields = document.NewLazyDocument(fields)
	}

	resp, err := p.pool.Client().Converse(ctx, input)
	if err != nil {
		if isBedrockThrottle(err) {
			return nil, ErrThrottled
		}
		return nil, &ProviderError{Provider: p.Name(), ModelID: modelID, Err: err}
	}

	out := &Response{
		StopReason: StopReason(resp.StopReason),
		ModelID:    modelID,
	}
	if message, ok := resp.Output.(*types.ConverseOutputMemberMessage); ok {
		out.Content = blocksFromBedrock(message.Value.Content)
	}
	if resp.Usage != nil {
		out.Usage = models.Usage{
			InputTokens:           int64(aws.ToInt32(resp.Usage.InputTokens)),
			OutputTokens:          int64(aws.ToInt32(resp.Usage.OutputTokens)),
			CacheReadInputTokens:  int64(aws.ToInt32(resp.Usage.CacheReadInputTokens)),
			CacheWriteInputTokens: int64(aws.ToInt32(resp.Usage.CacheWriteInputTokens)),
		}
	}
	return out, nil
}

func bedrockMessages(messages []Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		content := make([]types.ContentBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			if converted := bedrockBlock(block); converted != nil {
				content = append(content, converted)
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func bedrockBlock(block models.ContentBlock) types.ContentBlock {
	switch {
	case block.Text != nil:
		return &types.ContentBlockMemberText{Value: block.Text.Text}
	case block.Image != nil:
		return &types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: bedrockImageFormat(block.Image.Format),
			Source: &types.ImageSourceMemberBytes{Value: block.Image.Bytes},
		}}
	case block.ToolUse != nil:
		return &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(block.ToolUse.ToolUseID),
			Name:      aws.String(block.ToolUse.Name),
			Input:     document.NewLazyDocument(block.ToolUse.Input),
		}}
	case block.ToolResult != nil:
		content := make([]types.ToolResultContentBlock, 0, len(block.ToolResult.Content))
		for _, part := range block.ToolResult.Content {
			switch {
			case part.Text != nil:
				content = append(content, &types.ToolResultContentBlockMemberText{Value: part.Text.Text})
			case part.Image != nil:
				content = append(content, &types.ToolResultContentBlockMemberImage{Value: types.ImageBlock{
					Format: bedrockImageFormat(part.Image.Format),
					Source: &types.ImageSourceMemberBytes{Value: part.Image.Bytes},
				}})
			}
		}
		status := types.ToolResultStatusSuccess
		if block.ToolResult.Status == models.ToolResultError {
			status = types.ToolResultStatusError
		}
		return &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(block.ToolResult.ToolUseID),
			Content:   content,
			Status:    status,
		}}
	case block.Reasoning != nil:
		return &types.ContentBlockMemberReasoningContent{
			Value: &types.ReasoningContentBlockMemberReasoningText{
				Value: types.ReasoningTextBlock{
					Text:      aws.String(block.Reasoning.Text),
					Signature: aws.String(block.Reasoning.Signature),
				},
			},
		}
	case block.CachePoint != nil:
		return &types.ContentBlockMemberCachePoint{
			Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
		}
	}
	return nil
}

func blocksFromBedrock(content []types.ContentBlock) []models.ContentBlock {
	out := make([]models.ContentBlock, 0, len(content))
	for _, block := range content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			out = append(out, models.ContentBlock{Text: &models.TextBlock{Text: b.Value}})
		case *types.ContentBlockMemberToolUse:
			input := map[string]any{}
			if b.Value.Input != nil {
				// Malformed input documents surface later as schema errors.
				_ = b.Value.Input.UnmarshalSmithyDocument(&input)
			}
			out = append(out, models.ContentBlock{ToolUse: &models.ToolUseBlock{
				ToolUseID: aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Input:     input,
			}})
		case *types.ContentBlockMemberReasoningContent:
			if text, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				out = append(out, models.ContentBlock{Reasoning: &models.ReasoningBlock{
					Text:      aws.ToString(text.Value.Text),
					Signature: aws.ToString(text.Value.Signature),
				}})
			}
		}
	}
	return out
}

func bedrockSystem(system []SystemBlock) []types.SystemContentBlock {
	out := make([]types.SystemContentBlock, 0, len(system)+1)
	for _, block := range system {
		out = append(out, &types.SystemContentBlockMemberText{Value: block.Text})
		if block.CachePoint {
			out = append(out, &types.SystemContentBlockMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
	}
	return out
}

func bedrockToolConfig(tools []ToolSpec, choice *ToolChoice) *types.ToolConfiguration {
	config := &types.ToolConfiguration{}
	for _, tool := range tools {
		config.Tools = append(config.Tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(tool.InputSchema),
				},
			},
		})
		if tool.CachePoint {
			config.Tools = append(config.Tools, &types.ToolMemberCachePoint{
				Value: types.CachePointBlock{Type: types.CachePointTypeDefault},
			})
		}
	}
	if choice != nil {
		switch choice.Kind {
		case ToolChoiceAuto:
			config.ToolChoice = &types.ToolChoiceMemberAuto{Value: types.AutoToolChoice{}}
		case ToolChoiceAny:
			config.ToolChoice = &types.ToolChoiceMemberAny{Value: types.AnyToolChoice{}}
		case ToolChoiceTool:
			config.ToolChoice = &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(choice.Name)},
			}
		}
	}
	return config
}

func bedrockImageFormat(format models.ImageFormat) types.ImageFormat {
	switch format {
	case models.ImageFormatJPEG:
		return types.ImageFormatJpeg
	case models.ImageFormatGIF:
		return types.ImageFormatGif
	case models.ImageFormatWebP:
		return types.ImageFormatWebp
	default:
		return types.ImageFormatPng
	}
}

func isBedrockThrottle(err error) bool {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "Too many requests") ||
		strings.Contains(msg, "429")
}
