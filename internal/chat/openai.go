package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	oshared "github.com/openai/openai-go/shared"
)

// OpenAIService implements CompletionService over the chat completions API.
// A custom base URL lets it talk to OpenAI-compatible endpoints as well.
type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey, model, baseURL string) (*OpenAIService, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured: set OPENAI_API_KEY or add api_key to the provider config")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIService{client: &client, model: model}, nil
}

func (s *OpenAIService) Name() string {
	return fmt.Sprintf("OpenAI (%s)", s.model)
}

func (s *OpenAIService) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    chooseModel(req.Model, s.model),
		Messages: buildOpenAIMessages(req),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := completion.Choices[0].Message
	resp := &Response{
		Usage: &Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	if choice.Content != "" {
		resp.Parts = append(resp.Parts, Part{Type: PartText, Text: choice.Content})
	}
	for _, tc := range choice.ToolCalls {
		resp.Parts = append(resp.Parts, Part{Type: PartToolCall, ToolCall: &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: toolInputToRaw(tc.Function.Arguments),
		}})
	}
	return resp, nil
}

// CountTokens approximates with the usual four characters per token rule.
// Chat completions has no count endpoint, and the margin ratio in the window
// config absorbs the slack.
func (s *OpenAIService) CountTokens(_ context.Context, req Request) (int, error) {
	chars := len(req.System)
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			chars += len(part.Text)
			if part.ToolCall != nil {
				chars += len(part.ToolCall.Name) + len(part.ToolCall.Arguments)
			}
			if part.ToolResult != nil {
				chars += len(part.ToolResult.Content)
			}
		}
	}
	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description) + 256
	}
	return chars / 4, nil
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			if text := messageText(msg); text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case RoleAssistant:
			out = append(out, buildOpenAIAssistant(msg))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAIAssistant(msg Message) openai.ChatCompletionMessageParamUnion {
	text := messageText(msg)
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, part := range msg.Parts {
		if part.Type == PartToolCall && part.ToolCall != nil {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: part.ToolCall.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.ToolCall.Name,
					Arguments: string(part.ToolCall.Arguments),
				},
			})
		}
	}
	if len(toolCalls) == 0 {
		return openai.AssistantMessage(text)
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func messageText(msg Message) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if part.Type == PartText && part.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := oshared.FunctionDefinitionParam{
			Name:       spec.Name,
			Parameters: oshared.FunctionParameters(spec.Schema),
		}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	status := 0
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		status = apierr.StatusCode
	}
	lower := strings.ToLower(err.Error())

	switch {
	case status == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return &RateLimitError{Message: err.Error()}
	case status == 503 || strings.Contains(lower, "overloaded") || strings.Contains(lower, "server is busy"):
		return &OverloadedError{Message: err.Error()}
	case status == 400 && strings.Contains(lower, "tool_call") && strings.Contains(lower, "must be followed"):
		return &StructuralRejectionError{TurnIndex: -1, Message: err.Error()}
	}
	return err
}
