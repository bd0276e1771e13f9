package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fastRetry(maxRetries int) Settings {
	return Settings{Retry: RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond}}
}

func TestRetryRateLimitThenSuccess(t *testing.T) {
	service := newMockService()
	service.queueError(&RateLimitError{Message: "429 too many requests"})
	service.queueText("recovered")
	engine := NewEngine(service, nil, fastRetry(3))

	err := engine.ProcessQuery(context.Background(), nil, "hello", nil)
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v, want recovery on retry", err)
	}
	if len(service.Requests) != 2 {
		t.Errorf("completion calls = %d, want 2", len(service.Requests))
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	// MaxRetries bounds total attempts: two failures with MaxRetries 2
	// means exactly two calls, then the typed failure surfaces.
	service := newMockService()
	service.queueError(&RateLimitError{Message: "429"})
	service.queueError(&RateLimitError{Message: "429"})
	engine := NewEngine(service, nil, fastRetry(2))

	err := engine.ProcessQuery(context.Background(), nil, "hello", nil)
	if err == nil {
		t.Fatal("ProcessQuery() = nil, want rate limit failure")
	}
	if len(service.Requests) != 2 {
		t.Errorf("completion calls = %d, want 2", len(service.Requests))
	}
	if !strings.Contains(err.Error(), "rate limit exceeded after 2 attempts") {
		t.Errorf("error = %q, want the rate limit wording", err)
	}
	var rateLimited *RateLimitError
	if !errors.As(err, &rateLimited) {
		t.Error("underlying RateLimitError should remain unwrappable")
	}
}

func TestRetryOverloadedDistinctMessage(t *testing.T) {
	service := newMockService()
	service.queueError(&OverloadedError{Message: "529"})
	service.queueError(&OverloadedError{Message: "529"})
	engine := NewEngine(service, nil, fastRetry(2))

	err := engine.ProcessQuery(context.Background(), nil, "hello", nil)
	if err == nil {
		t.Fatal("ProcessQuery() = nil, want overload failure")
	}
	if !strings.Contains(err.Error(), "overloaded after 2 attempts") {
		t.Errorf("error = %q, want the overload wording", err)
	}
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	service := newMockService()
	service.queueError(errors.New("400 invalid request"))
	engine := NewEngine(service, nil, fastRetry(3))

	err := engine.ProcessQuery(context.Background(), nil, "hello", nil)
	if err == nil {
		t.Fatal("ProcessQuery() = nil, want error")
	}
	if len(service.Requests) != 1 {
		t.Errorf("completion calls = %d, want 1 (no retry on unrecognized errors)", len(service.Requests))
	}
}

func TestRetryStructuralRejectionDropsTurn(t *testing.T) {
	service := newMockService()
	service.queueError(&StructuralRejectionError{ToolCallID: "call_bad", TurnIndex: -1, Message: "unmatched tool_use"})
	service.queueText("fine now")
	engine := NewEngine(service, nil, fastRetry(2))

	// A tool turn whose ID the service will reject. Pairing is locally
	// valid so repair leaves it alone.
	engine.Restore([]Message{
		UserText("earlier"),
		{Role: RoleAssistant, Parts: []Part{callPart("call_bad", "ghost")}},
		ToolResultMessage("call_bad", "ghost output"),
		AssistantText("done earlier"),
	})

	err := engine.ProcessQuery(context.Background(), nil, "continue", nil)
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v, want recovery after dropping the turn", err)
	}
	if len(service.Requests) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(service.Requests))
	}

	// The retried request must no longer contain the implicated turn. Its
	// stranded result gets re-paired with a synthetic sentinel call, so
	// the transcript stays structurally valid after the drop.
	retried := service.Requests[1].Messages
	for _, msg := range retried {
		for _, part := range msg.Parts {
			if part.ToolCall != nil && part.ToolCall.Name == "ghost" {
				t.Error("rejected turn still present in the retried request")
			}
		}
	}
	if err := ValidatePairing(retried); err != nil {
		t.Errorf("retried transcript invalid: %v", err)
	}
}

func TestRetryStructuralRejectionDoesNotConsumeAttempts(t *testing.T) {
	// One drop-and-retry followed by a rate limit and a success: the rate
	// limit is attempt 1 of 2, so the query still recovers.
	service := newMockService()
	service.queueError(&StructuralRejectionError{ToolCallID: "call_bad", TurnIndex: -1})
	service.queueError(&RateLimitError{Message: "429"})
	service.queueText("recovered")
	engine := NewEngine(service, nil, fastRetry(2))

	engine.Restore([]Message{
		UserText("earlier"),
		{Role: RoleAssistant, Parts: []Part{callPart("call_bad", "ghost")}},
		ToolResultMessage("call_bad", "ghost output"),
	})

	err := engine.ProcessQuery(context.Background(), nil, "continue", nil)
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v, want recovery", err)
	}
	if len(service.Requests) != 3 {
		t.Errorf("completion calls = %d, want 3", len(service.Requests))
	}
}

func TestRetryStructuralRejectionBounded(t *testing.T) {
	service := newMockService()
	for i := 0; i <= maxStructuralDrops; i++ {
		service.queueError(&StructuralRejectionError{TurnIndex: 0})
	}
	engine := NewEngine(service, nil, fastRetry(2))
	engine.Restore(fixtureConversation(10))

	err := engine.ProcessQuery(context.Background(), nil, "continue", nil)
	if err == nil {
		t.Fatal("ProcessQuery() = nil, want bounded-drop failure")
	}
	if !strings.Contains(err.Error(), "repeatedly rejected") {
		t.Errorf("error = %q, want the repeated-rejection wording", err)
	}
}

func TestRetryUnlocatableRejectionFails(t *testing.T) {
	service := newMockService()
	service.queueError(&StructuralRejectionError{ToolCallID: "call_unknown", TurnIndex: -1, Message: "unmatched tool_use"})
	engine := NewEngine(service, nil, fastRetry(2))

	err := engine.ProcessQuery(context.Background(), nil, "hello", nil)
	if err == nil {
		t.Fatal("ProcessQuery() = nil, want error when no turn matches the rejection")
	}
	if len(service.Requests) != 1 {
		t.Errorf("completion calls = %d, want 1", len(service.Requests))
	}
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	service := newMockService()
	service.queueError(&RateLimitError{Message: "429", RetryAfter: time.Hour})
	engine := NewEngine(service, nil, Settings{Retry: RetryConfig{MaxRetries: 3, BaseDelay: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.ProcessQuery(ctx, nil, "hello", nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ProcessQuery() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessQuery did not return after cancellation")
	}
}

func TestRetryTranscriptFittedBeforeFirstAttempt(t *testing.T) {
	// The window manager runs before the first attempt, using the
	// service itself as the estimator.
	service := newMockService()
	service.tokenCounts = []int{5000, 100}
	service.queueText("fits now")
	engine := NewEngine(service, nil, Settings{
		Window: WindowConfig{MaxContextTokens: 1000},
	})
	engine.Restore(fixtureConversation(4))

	err := engine.ProcessQuery(context.Background(), nil, "one more", nil)
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}
	req := service.Requests[0]
	if len(req.Messages) != 7 {
		t.Errorf("request carried %d turns, want 7 after evicting one round", len(req.Messages))
	}
}
