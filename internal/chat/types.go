package chat

import (
	"context"
	"encoding/json"
)

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
)

// Message holds a role with structured parts. A Message is one turn of the
// conversation; the ordered slice of Messages is the transcript sent to the
// completion service. Messages are replaced wholesale when edited, never
// mutated in place.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part.
type Part struct {
	Type       PartType
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Image      *ImageRef
}

// ToolCall is a model-requested tool invocation. ID is unique within a
// conversation and correlates the invocation with its result.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the output from executing a tool call. ID references the
// originating ToolCall.ID.
type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// ImageRef carries image content either inline (base64 data plus mime type)
// or by URL.
type ImageRef struct {
	Data     string
	MimeType string
	URL      string
}

// ToolSpec describes a callable tool as advertised by the gateway. The
// engine holds a snapshot of these, replaced wholesale on catalog changes.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Usage captures token usage if the service reports it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is one completion call over the current transcript.
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
}

// Response is the completion service's reply: an ordered list of parts
// (text and tool calls) plus optional usage.
type Response struct {
	Parts []Part
	Usage *Usage
}

// CompletionService is the external model API. Implementations must return
// the typed errors in errors.go for rate-limit, overload, and structural
// rejection conditions so the retry policy can distinguish them.
type CompletionService interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	CountTokens(ctx context.Context, req Request) (int, error)
}

// TokenEstimator is the subset of CompletionService the window manager
// needs. Tests substitute a deterministic stub.
type TokenEstimator interface {
	CountTokens(ctx context.Context, req Request) (int, error)
}

// GatewayItem is one content item returned by a tool invocation.
type GatewayItem struct {
	Text     string
	Data     string
	MimeType string
}

// GatewayResult is the outcome of a tool invocation.
type GatewayResult struct {
	Items   []GatewayItem
	IsError bool
}

// ToolGateway executes tools on behalf of the engine. Invoke is expected to
// honor ctx cancellation; the engine applies the configured per-call timeout
// through ctx.
type ToolGateway interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (*GatewayResult, error)
	ListTools(ctx context.Context) ([]ToolSpec, error)
}

// Store persists conversation snapshots across engine lifetimes.
// Last-write-wins; no transactional guarantees.
type Store interface {
	Load(ctx context.Context) ([]Message, error)
	Save(ctx context.Context, messages []Message) error
}

// EmitFunc receives each part of the model's output, and each tool result,
// strictly in transcript order. The HTTP/SSE layer (or the terminal UI)
// supplies this.
type EmitFunc func(role Role, part Part)

func SystemText(text string) Message {
	return Message{
		Role:  RoleSystem,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func UserText(text string) Message {
	return Message{
		Role:  RoleUser,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func AssistantText(text string) Message {
	return Message{
		Role:  RoleAssistant,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

func ToolResultMessage(id, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ID: id, Content: content},
		}},
	}
}

// ToolErrorMessage creates a tool result message that indicates an error.
// The error is passed to the model so it can respond gracefully instead of
// failing the query.
func ToolErrorMessage(id, errorText string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ID: id, Content: errorText, IsError: true},
		}},
	}
}

func clonePart(part Part) (Part, bool) {
	cloned := part

	switch part.Type {
	case PartToolCall:
		if part.ToolCall == nil {
			return Part{}, false
		}
		call := *part.ToolCall
		if len(call.Arguments) > 0 {
			call.Arguments = append(json.RawMessage(nil), call.Arguments...)
		}
		cloned.ToolCall = &call

	case PartToolResult:
		if part.ToolResult == nil {
			return Part{}, false
		}
		result := *part.ToolResult
		cloned.ToolResult = &result

	case PartImage:
		if part.Image != nil {
			image := *part.Image
			cloned.Image = &image
		}
	}

	return cloned, true
}

func cloneParts(parts []Part) []Part {
	cloned := make([]Part, 0, len(parts))
	for _, part := range parts {
		clone, ok := clonePart(part)
		if !ok {
			continue
		}
		cloned = append(cloned, clone)
	}
	return cloned
}

// CloneMessages deep-copies a transcript so callers can hand it out without
// aliasing the engine's internal state.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, Message{Role: msg.Role, Parts: cloneParts(msg.Parts)})
	}
	return out
}
