package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicService implements CompletionService against the Anthropic
// Messages API. Token estimation uses the API's count-tokens endpoint, so
// eviction decisions are based on the same tokenizer that will bill the
// request.
type AnthropicService struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicService creates the service. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicService(apiKey, model string) (*AnthropicService, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured: set ANTHROPIC_API_KEY or add api_key to the provider config")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicService{client: &client, model: model}, nil
}

func (s *AnthropicService) Name() string {
	return fmt.Sprintf("Anthropic (%s)", s.model)
}

func (s *AnthropicService) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, s.model)),
		MaxTokens: int64(req.MaxOutputTokens),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	msg, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	resp := &Response{
		Usage: &Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if variant.Text != "" {
				resp.Parts = append(resp.Parts, Part{Type: PartText, Text: variant.Text})
			}
		case anthropic.ToolUseBlock:
			resp.Parts = append(resp.Parts, Part{Type: PartToolCall, ToolCall: &ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: toolInputToRaw(variant.Input),
			}})
		}
	}
	return resp, nil
}

func (s *AnthropicService) CountTokens(ctx context.Context, req Request) (int, error) {
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(chooseModel(req.Model, s.model)),
		Messages: buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfString: anthropic.String(req.System),
		}
	}
	for _, tool := range buildAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.MessageCountTokensToolUnionParam{OfTool: tool.OfTool})
	}

	result, err := s.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, mapAnthropicError(err)
	}
	return int(result.InputTokens), nil
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

// buildAnthropicMessages converts the transcript to API params. System turns
// are folded into the top-level system prompt by the caller and skipped
// here; tool turns go over the wire as user turns holding tool_result
// blocks, per the Messages API shape.
func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser, RoleTool:
			blocks := buildAnthropicBlocks(msg.Parts, false)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case RoleAssistant:
			blocks := buildAnthropicBlocks(msg.Parts, true)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	return out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				block := anthropic.ToolResultBlockParam{
					ToolUseID: part.ToolResult.ID,
					IsError:   anthropic.Bool(part.ToolResult.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: part.ToolResult.Content}},
					},
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
			}
		case PartImage:
			if part.Image != nil && part.Image.Data != "" {
				blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MimeType, part.Image.Data))
			}
		}
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]any) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return data
	}
}

// mapAnthropicError converts SDK errors into the engine's typed taxonomy so
// the retry policy can tell transient conditions from fatal ones.
func mapAnthropicError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}
	lower := strings.ToLower(err.Error())

	switch {
	case status == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return &RateLimitError{Message: err.Error()}
	case status == 529 || status == 503 || strings.Contains(lower, "overloaded"):
		return &OverloadedError{Message: err.Error()}
	case strings.Contains(lower, "tool_use") && strings.Contains(lower, "tool_result"):
		return &StructuralRejectionError{
			ToolCallID: extractToolUseID(err.Error()),
			TurnIndex:  -1,
			Message:    err.Error(),
		}
	}
	return err
}

// extractToolUseID pulls a toolu_* id out of an API error message like
// `tool_use ids were found without tool_result blocks: toolu_01Abc`.
func extractToolUseID(message string) string {
	idx := strings.Index(message, "toolu_")
	if idx < 0 {
		return ""
	}
	rest := message[idx:]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end < 0 {
		return rest
	}
	return rest[:end]
}
