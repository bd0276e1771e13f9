package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 2 * time.Second

	// maxStructuralDrops bounds how many turns a single completion call may
	// shed in response to structural rejections before giving up.
	maxStructuralDrops = 5
)

// RetryConfig configures the completion retry policy.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	return c
}

// completeWithRetry issues one completion call with the bounded retry
// policy. The transcript is repaired and fitted to the token budget before
// the first attempt. Rate-limit and overload conditions back off linearly
// (attempt × base delay) and fail with distinct user-facing messages once
// attempts run out. A structural rejection from the service drops the
// implicated turn and retries immediately without consuming an attempt.
// Anything else propagates at once.
func (e *Engine) completeWithRetry(ctx context.Context) (*Response, error) {
	e.mu.Lock()
	cfg := e.settings.Retry.withDefaults()
	window := e.settings.Window
	settings := e.settings
	e.conv = Repair(e.conv)
	conv := e.conv
	tools := e.tools
	e.mu.Unlock()

	conv = EnsureBudget(ctx, conv, settings.SystemPrompt, tools, settings.Model, window, e.service)
	e.mu.Lock()
	e.conv = conv
	e.mu.Unlock()

	req := Request{
		Model:           settings.Model,
		System:          settings.SystemPrompt,
		Messages:        conv,
		Tools:           tools,
		MaxOutputTokens: settings.MaxOutputTokens,
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = defaultMaxOutputTokens
	}

	drops := 0
	for attempt := 1; ; attempt++ {
		resp, err := e.service.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		var rejection *StructuralRejectionError
		if errors.As(err, &rejection) {
			// The service saw a pairing error our repair missed (e.g. a race
			// with concurrent mutation of the persisted snapshot). Shed the
			// implicated turn and go again; this does not consume an attempt
			// or a backoff delay.
			if drops >= maxStructuralDrops {
				return nil, fmt.Errorf("transcript repeatedly rejected by %s: %w", e.service.Name(), err)
			}
			drops++
			if !e.dropRejectedTurn(rejection) {
				return nil, err
			}
			e.mu.Lock()
			req.Messages = e.conv
			e.mu.Unlock()
			attempt--
			continue
		}

		var rateLimited *RateLimitError
		var overloaded *OverloadedError
		switch {
		case errors.As(err, &rateLimited):
			if attempt >= cfg.MaxRetries {
				return nil, fmt.Errorf("rate limit exceeded after %d attempts; wait a little or switch models: %w", attempt, err)
			}
		case errors.As(err, &overloaded):
			if attempt >= cfg.MaxRetries {
				return nil, fmt.Errorf("%s is overloaded after %d attempts; try again later or switch models: %w", e.service.Name(), attempt, err)
			}
		default:
			return nil, err
		}

		wait := time.Duration(attempt) * cfg.BaseDelay
		if rateLimited != nil && rateLimited.RetryAfter > wait {
			wait = rateLimited.RetryAfter
		}
		debugf("completion attempt %d/%d failed (%v), retrying in %s", attempt, cfg.MaxRetries, err, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// dropRejectedTurn removes the turn implicated by a structural rejection,
// located by turn index when the service reported one, otherwise by the
// offending tool call id. Returns false when nothing matches.
func (e *Engine) dropRejectedTurn(rej *StructuralRejectionError) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := -1
	if rej.TurnIndex >= 0 && rej.TurnIndex < len(e.conv) {
		index = rej.TurnIndex
	} else if rej.ToolCallID != "" {
		for i, msg := range e.conv {
			if messageReferencesCall(msg, rej.ToolCallID) {
				index = i
				break
			}
		}
	}
	if index < 0 {
		return false
	}

	conv := make([]Message, 0, len(e.conv)-1)
	conv = append(conv, e.conv[:index]...)
	conv = append(conv, e.conv[index+1:]...)
	e.conv = Repair(conv)
	return true
}

func messageReferencesCall(msg Message, id string) bool {
	for _, part := range msg.Parts {
		switch part.Type {
		case PartToolCall:
			if part.ToolCall != nil && part.ToolCall.ID == id {
				return true
			}
		case PartToolResult:
			if part.ToolResult != nil && part.ToolResult.ID == id {
				return true
			}
		}
	}
	return false
}
