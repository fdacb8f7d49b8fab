package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/remoteswe/worker/pkg/models"
)

// AnthropicProvider issues Messages API calls against the Anthropic API
// directly. Model ids are the Anthropic-native ones; cache-point markers are
// expressed as ephemeral cache_control on the preceding block.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates the Anthropic back end with the given API key.
func NewAnthropicProvider(apiKey string, logger *slog.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Converse(ctx context.Context, modelID string, req *Request, reasoning reasoningConfig) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: int64(req.Inference.MaxTokens),
		Messages:  anthropicMessages(req.Messages),
	}
	if req.Inference.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Inference.Temperature)
	}
	if req.Inference.TopP != nil {
		params.TopP = anthropic.Float(*req.Inference.TopP)
	}
	for _, block := range req.System {
		text := anthropic.TextBlockParam{Text: block.Text}
		if block.CachePoint {
			text.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = append(params.System, text)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropicTool(tool))
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Kind {
		case ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		case ToolChoiceAny:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case ToolChoiceTool:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice.Name}}
		}
	}
	var opts []option.RequestOption
	if reasoning.Enabled {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(reasoning.BudgetTokens))
		if reasoning.Interleaved {
			opts = append(opts, option.WithHeaderAdd("anthropic-beta", interleavedThinkingBeta))
		}
	}

	message, err := p.client.Messages.New(ctx, params, opts...)
	if err != nil {
		if isAnthropicThrottle(err) {
			return nil, ErrThrottled
		}
		return nil, &ProviderError{Provider: p.Name(), ModelID: modelID, Err: err}
	}

	out := &Response{
		StopReason: StopReason(message.StopReason),
		ModelID:    modelID,
		Usage: models.Usage{
			InputTokens:           message.Usage.InputTokens,
			OutputTokens:          message.Usage.OutputTokens,
			CacheReadInputTokens:  message.Usage.CacheReadInputTokens,
			CacheWriteInputTokens: message.Usage.CacheCreationInputTokens,
		},
	}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content = append(out.Content, models.ContentBlock{Text: &models.TextBlock{Text: b.Text}})
		case anthropic.ToolUseBlock:
			input := map[string]any{}
			if len(b.Input) > 0 {
				// Malformed input surfaces later as a schema error.
				_ = json.Unmarshal(b.Input, &input)
			}
			out.Content = append(out.Content, models.ContentBlock{ToolUse: &models.ToolUseBlock{
				ToolUseID: b.ID,
				Name:      b.Name,
				Input:     input,
			}})
		case anthropic.ThinkingBlock:
			out.Content = append(out.Content, models.ContentBlock{Reasoning: &models.ReasoningBlock{
				Text:      b.Thinking,
				Signature: b.Signature,
			}})
		}
	}
	return out, nil
}

func anthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch {
			case block.Text != nil:
				content = append(content, anthropic.NewTextBlock(block.Text.Text))
			case block.Image != nil:
				content = append(content, anthropic.NewImageBlockBase64(
					anthropicMediaType(block.Image.Format),
					base64.StdEncoding.EncodeToString(block.Image.Bytes),
				))
			case block.ToolUse != nil:
				content = append(content, anthropic.NewToolUseBlock(
					block.ToolUse.ToolUseID,
					block.ToolUse.Input,
					block.ToolUse.Name,
				))
			case block.ToolResult != nil:
				content = append(content, anthropicToolResult(block.ToolResult))
			case block.Reasoning != nil:
				content = append(content, anthropic.NewThinkingBlock(
					block.Reasoning.Signature,
					block.Reasoning.Text,
				))
			case block.CachePoint != nil:
				markAnthropicCachePoint(content)
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

// markAnthropicCachePoint sets ephemeral cache_control on the last block,
// which is how the Anthropic API expresses a cache boundary.
func markAnthropicCachePoint(content []anthropic.ContentBlockParamUnion) {
	if len(content) == 0 {
		return
	}
	last := &content[len(content)-1]
	control := anthropic.NewCacheControlEphemeralParam()
	switch {
	case last.OfText != nil:
		last.OfText.CacheControl = control
	case last.OfImage != nil:
		last.OfImage.CacheControl = control
	case last.OfToolUse != nil:
		last.OfToolUse.CacheControl = control
	case last.OfToolResult != nil:
		last.OfToolResult.CacheControl = control
	}
}

func anthropicToolResult(result *models.ToolResultBlock) anthropic.ContentBlockParamUnion {
	param := anthropic.ToolResultBlockParam{ToolUseID: result.ToolUseID}
	if result.Status == models.ToolResultError {
		param.IsError = anthropic.Bool(true)
	}
	for _, part := range result.Content {
		switch {
		case part.Text != nil:
			param.Content = append(param.Content, anthropic.ToolResultBlockParamContentUnion{
				OfText: &anthropic.TextBlockParam{Text: part.Text.Text},
			})
		case part.Image != nil:
			param.Content = append(param.Content, anthropic.ToolResultBlockParamContentUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							Data:      base64.StdEncoding.EncodeToString(part.Image.Bytes),
							MediaType: anthropicBase64MediaType(part.Image.Format),
						},
					},
				},
			})
		}
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &param}
}

func anthropicTool(tool ToolSpec) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if tool.InputSchema != nil {
		if props, ok := tool.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := tool.InputSchema["required"].([]any); ok {
			for _, name := range required {
				if s, ok := name.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
	}
	param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if param.OfTool != nil {
		param.OfTool.Description = anthropic.String(tool.Description)
		if tool.CachePoint {
			param.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
	}
	return param
}

func anthropicMediaType(format models.ImageFormat) string {
	switch format {
	case models.ImageFormatJPEG:
		return "image/jpeg"
	case models.ImageFormatGIF:
		return "image/gif"
	case models.ImageFormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

func anthropicBase64MediaType(format models.ImageFormat) anthropic.Base64ImageSourceMediaType {
	switch format {
	case models.ImageFormatJPEG:
		return anthropic.Base64ImageSourceMediaTypeImageJPEG
	case models.ImageFormatGIF:
		return anthropic.Base64ImageSourceMediaTypeImageGIF
	case models.ImageFormatWebP:
		return anthropic.Base64ImageSourceMediaTypeImageWebP
	default:
		return anthropic.Base64ImageSourceMediaTypeImagePNG
	}
}

func isAnthropicThrottle(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode == 529
	}
	return false
}
