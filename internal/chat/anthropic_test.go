package chat

import (
	"errors"
	"testing"
)

func TestMapAnthropicErrorRateLimit(t *testing.T) {
	err := mapAnthropicError(errors.New("429: rate limit exceeded for requests"))
	var rateLimited *RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Errorf("got %T, want *RateLimitError", err)
	}
}

func TestMapAnthropicErrorOverloaded(t *testing.T) {
	err := mapAnthropicError(errors.New("529: overloaded_error: Anthropic is overloaded"))
	var overloaded *OverloadedError
	if !errors.As(err, &overloaded) {
		t.Errorf("got %T, want *OverloadedError", err)
	}
}

func TestMapAnthropicErrorStructuralRejection(t *testing.T) {
	raw := errors.New("400: messages.1: tool_use ids were found without tool_result blocks immediately after: toolu_01AbCd. Each tool_use block must have a corresponding tool_result block")
	err := mapAnthropicError(raw)
	var rejection *StructuralRejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("got %T, want *StructuralRejectionError", err)
	}
	if rejection.ToolCallID != "toolu_01AbCd" {
		t.Errorf("ToolCallID = %q, want %q", rejection.ToolCallID, "toolu_01AbCd")
	}
	if rejection.TurnIndex != -1 {
		t.Errorf("TurnIndex = %d, want -1", rejection.TurnIndex)
	}
}

func TestMapAnthropicErrorPassthrough(t *testing.T) {
	raw := errors.New("401: invalid x-api-key")
	if err := mapAnthropicError(raw); err != raw {
		t.Errorf("unrecognized error was rewritten: %v", err)
	}
}

func TestExtractToolUseID(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"unexpected tool_use id found: toolu_01XYZ without result", "toolu_01XYZ"},
		{"toolu_abc123", "toolu_abc123"},
		{"no id in this message", ""},
	}
	for _, tc := range cases {
		if got := extractToolUseID(tc.message); got != tc.want {
			t.Errorf("extractToolUseID(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestBuildAnthropicMessagesRoles(t *testing.T) {
	conv := []Message{
		UserText("hi"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "checking"},
			callPart("call_1", "probe"),
		}},
		ToolResultMessage("call_1", "ok"),
	}

	params := buildAnthropicMessages(conv)
	if len(params) != 3 {
		t.Fatalf("got %d params, want 3", len(params))
	}
	// Tool turns ride as user messages holding tool_result blocks.
	if params[2].Role != "user" {
		t.Errorf("tool turn role = %q, want user", params[2].Role)
	}
	if params[1].Role != "assistant" {
		t.Errorf("assistant turn role = %q, want assistant", params[1].Role)
	}
}

func TestBuildAnthropicMessagesSkipsSystemTurns(t *testing.T) {
	conv := []Message{
		SystemText("you are terse"),
		UserText("hi"),
	}
	params := buildAnthropicMessages(conv)
	if len(params) != 1 {
		t.Errorf("got %d params, want 1 (system turns fold into the system prompt)", len(params))
	}
}

func TestSchemaRequired(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"path", "mode"},
	}
	got := schemaRequired(schema)
	if len(got) != 2 || got[0] != "path" || got[1] != "mode" {
		t.Errorf("schemaRequired() = %v, want [path mode]", got)
	}
	if got := schemaRequired(map[string]any{}); got != nil {
		t.Errorf("schemaRequired(empty) = %v, want nil", got)
	}
}

func TestToolInputToRaw(t *testing.T) {
	raw := toolInputToRaw(map[string]any{"path": "main.go"})
	if string(raw) != `{"path":"main.go"}` {
		t.Errorf("toolInputToRaw(map) = %s", raw)
	}
	if got := toolInputToRaw([]byte(`{"a":1}`)); string(got) != `{"a":1}` {
		t.Errorf("toolInputToRaw(bytes) = %s", got)
	}
}
