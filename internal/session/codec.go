package session

import (
	"encoding/json"
	"fmt"

	"github.com/mcpchat/mcpchat/internal/chat"
)

// StoredTurn is one persisted conversation turn: a role plus its parts
// serialized as JSON.
type StoredTurn struct {
	Role  string
	Parts string
}

type storedPart struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	ToolCall   *storedToolCall   `json:"tool_call,omitempty"`
	ToolResult *storedToolResult `json:"tool_result,omitempty"`
	Image      *storedImage      `json:"image,omitempty"`
}

type storedToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type storedToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

type storedImage struct {
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// EncodeTurn serializes a message for storage.
func EncodeTurn(msg chat.Message) (StoredTurn, error) {
	parts := make([]storedPart, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		sp := storedPart{Type: string(part.Type), Text: part.Text}
		if part.ToolCall != nil {
			sp.ToolCall = &storedToolCall{
				ID:        part.ToolCall.ID,
				Name:      part.ToolCall.Name,
				Arguments: part.ToolCall.Arguments,
			}
		}
		if part.ToolResult != nil {
			sp.ToolResult = &storedToolResult{
				ID:      part.ToolResult.ID,
				Content: part.ToolResult.Content,
				IsError: part.ToolResult.IsError,
			}
		}
		if part.Image != nil {
			sp.Image = &storedImage{
				Data:     part.Image.Data,
				MimeType: part.Image.MimeType,
				URL:      part.Image.URL,
			}
		}
		parts = append(parts, sp)
	}

	data, err := json.Marshal(parts)
	if err != nil {
		return StoredTurn{}, fmt.Errorf("encode turn parts: %w", err)
	}
	return StoredTurn{Role: string(msg.Role), Parts: string(data)}, nil
}

// DecodeTurn deserializes a stored turn back into a message.
func DecodeTurn(turn StoredTurn) (chat.Message, error) {
	var parts []storedPart
	if err := json.Unmarshal([]byte(turn.Parts), &parts); err != nil {
		return chat.Message{}, fmt.Errorf("decode turn parts: %w", err)
	}

	msg := chat.Message{Role: chat.Role(turn.Role)}
	for _, sp := range parts {
		part := chat.Part{Type: chat.PartType(sp.Type), Text: sp.Text}
		if sp.ToolCall != nil {
			part.ToolCall = &chat.ToolCall{
				ID:        sp.ToolCall.ID,
				Name:      sp.ToolCall.Name,
				Arguments: sp.ToolCall.Arguments,
			}
		}
		if sp.ToolResult != nil {
			part.ToolResult = &chat.ToolResult{
				ID:      sp.ToolResult.ID,
				Content: sp.ToolResult.Content,
				IsError: sp.ToolResult.IsError,
			}
		}
		if sp.Image != nil {
			part.Image = &chat.ImageRef{
				Data:     sp.Image.Data,
				MimeType: sp.Image.MimeType,
				URL:      sp.Image.URL,
			}
		}
		msg.Parts = append(msg.Parts, part)
	}
	return msg, nil
}

// EncodeTurns serializes a whole transcript.
func EncodeTurns(messages []chat.Message) ([]StoredTurn, error) {
	turns := make([]StoredTurn, 0, len(messages))
	for _, msg := range messages {
		turn, err := EncodeTurn(msg)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// DecodeTurns deserializes a whole transcript.
func DecodeTurns(turns []StoredTurn) ([]chat.Message, error) {
	messages := make([]chat.Message, 0, len(turns))
	for _, turn := range turns {
		msg, err := DecodeTurn(turn)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// summaryText extracts a display summary from the first user turn.
func summaryText(turns []StoredTurn) string {
	for _, turn := range turns {
		if turn.Role != string(chat.RoleUser) {
			continue
		}
		msg, err := DecodeTurn(turn)
		if err != nil {
			continue
		}
		for _, part := range msg.Parts {
			if part.Type == chat.PartText && part.Text != "" {
				if len(part.Text) > 120 {
					return part.Text[:120]
				}
				return part.Text
			}
		}
	}
	return ""
}
