package chat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// RedactedPlaceholder replaces base64 payloads found in text content.
	// Raw encoded blobs burn context tokens without telling the model
	// anything; the transcript keeps a marker instead.
	RedactedPlaceholder = "[binary content redacted]"

	// UnknownToolName is the sentinel name on synthetic tool calls created
	// for orphaned results. The arguments are always an empty object.
	UnknownToolName = "unknown_tool"

	// missingResultContent is the sentinel body of synthetic results created
	// for tool calls that lost their result.
	missingResultContent = "tool call did not produce a result"

	// minRedactLen is the shortest payload the redaction pass will touch.
	// Short valid-base64 strings ("test", "abcd") are almost always ordinary
	// text.
	minRedactLen = 16
)

// Repair restores the transcript's structural invariants. It is pure and
// idempotent: the input is never mutated, and Repair(Repair(x)) equals
// Repair(x).
//
// Two passes: redact base64 payloads in text content, then fix tool
// call/result pairing. Every tool call must have exactly one later result
// and every result must reference an existing call, with one exception: a
// call in the final turn may stay unresolved, since that round may still be
// in flight.
func Repair(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}

	redacted := redactMessages(messages)

	callIDs := make(map[string]bool)
	resultIDs := make(map[string]bool)
	for _, msg := range redacted {
		for _, part := range msg.Parts {
			switch part.Type {
			case PartToolCall:
				if part.ToolCall != nil && part.ToolCall.ID != "" {
					callIDs[part.ToolCall.ID] = true
				}
			case PartToolResult:
				if part.ToolResult != nil && part.ToolResult.ID != "" {
					resultIDs[part.ToolResult.ID] = true
				}
			}
		}
	}

	orphanResults := make(map[string]bool)
	for id := range resultIDs {
		if !callIDs[id] {
			orphanResults[id] = true
		}
	}
	danglingCalls := make(map[string]bool)
	for id := range callIDs {
		if !resultIDs[id] {
			danglingCalls[id] = true
		}
	}

	if len(orphanResults) == 0 && len(danglingCalls) == 0 {
		return redacted
	}

	lastIndex := len(redacted) - 1
	out := make([]Message, 0, len(redacted)+2)
	for i, msg := range redacted {
		if ids := orphanedResultIDs(msg, orphanResults); len(ids) > 0 {
			out = append(out, syntheticCallTurn(ids))
		}
		out = append(out, msg)
		if i == lastIndex {
			// An unresolved call in the final turn is a round in progress,
			// not damage.
			continue
		}
		if ids := danglingCallIDs(msg, danglingCalls); len(ids) > 0 {
			out = append(out, syntheticResultTurn(ids))
		}
	}
	return out
}

// orphanedResultIDs returns the result ids of msg, in order, when every
// part of msg is a tool result whose call is missing. Mixed turns are left
// alone: a turn with any matched result or non-result content still makes
// sense to the model.
func orphanedResultIDs(msg Message, orphans map[string]bool) []string {
	if len(msg.Parts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Type != PartToolResult || part.ToolResult == nil {
			return nil
		}
		if !orphans[part.ToolResult.ID] {
			return nil
		}
		ids = append(ids, part.ToolResult.ID)
	}
	return ids
}

// danglingCallIDs returns the ids of tool calls in msg that have no result
// anywhere later in the conversation, in part order.
func danglingCallIDs(msg Message, dangling map[string]bool) []string {
	var ids []string
	for _, part := range msg.Parts {
		if part.Type != PartToolCall || part.ToolCall == nil {
			continue
		}
		if dangling[part.ToolCall.ID] {
			ids = append(ids, part.ToolCall.ID)
		}
	}
	return ids
}

func syntheticCallTurn(ids []string) Message {
	parts := make([]Part, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, Part{
			Type: PartToolCall,
			ToolCall: &ToolCall{
				ID:        id,
				Name:      UnknownToolName,
				Arguments: json.RawMessage(`{}`),
			},
		})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

func syntheticResultTurn(ids []string) Message {
	parts := make([]Part, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, Part{
			Type: PartToolResult,
			ToolResult: &ToolResult{
				ID:      id,
				Content: missingResultContent,
				IsError: true,
			},
		})
	}
	return Message{Role: RoleTool, Parts: parts}
}

func redactMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		parts := make([]Part, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			cloned, ok := clonePart(part)
			if !ok {
				continue
			}
			switch cloned.Type {
			case PartText:
				cloned.Text = redactPayload(cloned.Text)
			case PartToolResult:
				cloned.ToolResult.Content = redactPayload(cloned.ToolResult.Content)
			}
			parts = append(parts, cloned)
		}
		out = append(out, Message{Role: msg.Role, Parts: parts})
	}
	return out
}

// redactPayload replaces content that is a raw base64 blob. The test is the
// cheap reversible-encoding check: decode, re-encode, compare. Ordinary prose
// fails the decode; accidental short matches are filtered by length.
func redactPayload(content string) string {
	if isEncodedPayload(content) {
		return RedactedPlaceholder
	}
	return content
}

func isEncodedPayload(content string) bool {
	if len(content) < minRedactLen || strings.ContainsAny(content, " \t\n") {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return false
	}
	return base64.StdEncoding.EncodeToString(decoded) == content
}

// ValidatePairing reports the first pairing violation in a transcript, or
// nil. Used by tests and as a cheap assertion before completion calls when
// debug tracing is on.
func ValidatePairing(messages []Message) error {
	callIDs := make(map[string]bool)
	resultIDs := make(map[string]bool)
	lastIndex := len(messages) - 1

	for i, msg := range messages {
		for _, part := range msg.Parts {
			switch part.Type {
			case PartToolCall:
				if part.ToolCall != nil {
					callIDs[part.ToolCall.ID] = true
					if i == lastIndex {
						// in-flight round, exempt
						resultIDs[part.ToolCall.ID] = true
					}
				}
			case PartToolResult:
				if part.ToolResult != nil {
					resultIDs[part.ToolResult.ID] = true
				}
			}
		}
	}
	for id := range callIDs {
		if !resultIDs[id] {
			return fmt.Errorf("tool call %s has no result", id)
		}
	}
	for id := range resultIDs {
		if !callIDs[id] {
			return fmt.Errorf("tool result %s references no tool call", id)
		}
	}
	return nil
}
