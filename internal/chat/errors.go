package chat

import (
	"errors"
	"fmt"
	"time"
)

// ErrQueryInFlight is returned by ProcessQuery when another query is already
// being processed for the same conversation. The engine performs no internal
// locking beyond this guard; callers own serialization.
var ErrQueryInFlight = errors.New("a query is already in flight for this conversation")

// RateLimitError indicates the completion service rejected the call with a
// rate-limit condition (HTTP 429 or equivalent).
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limited"
}

// OverloadedError indicates the completion service is temporarily overloaded
// (HTTP 529/503 or an explicit overloaded_error condition).
type OverloadedError struct {
	Message string
}

func (e *OverloadedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "service overloaded"
}

// StructuralRejectionError indicates the service rejected the transcript
// itself: a tool invocation without a matching result (or vice versa) that
// local repair missed. ToolCallID names the offending correlation id when
// the service reported one; TurnIndex is the implicated turn, or -1.
type StructuralRejectionError struct {
	ToolCallID string
	TurnIndex  int
	Message    string
}

func (e *StructuralRejectionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transcript rejected: unmatched tool call %s", e.ToolCallID)
}
