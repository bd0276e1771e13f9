package chat

import (
	"context"
)

const (
	defaultSafetyMarginRatio = 0.99
	defaultMinRetainedTurns  = 2
)

// WindowConfig bounds the transcript's token footprint.
type WindowConfig struct {
	// MaxContextTokens is the hard ceiling before the safety margin.
	// Zero disables eviction entirely.
	MaxContextTokens int
	// SafetyMarginRatio is the fraction of the ceiling treated as usable.
	SafetyMarginRatio float64
	// MinRetainedTurns is the floor below which eviction stops. The default
	// keeps one full user/assistant round.
	MinRetainedTurns int
}

func (c WindowConfig) withDefaults() WindowConfig {
	if c.SafetyMarginRatio <= 0 || c.SafetyMarginRatio > 1 {
		c.SafetyMarginRatio = defaultSafetyMarginRatio
	}
	if c.MinRetainedTurns <= 0 {
		c.MinRetainedTurns = defaultMinRetainedTurns
	}
	return c
}

// EnsureBudget evicts the oldest user/assistant rounds until the estimated
// token cost of {system prompt, transcript, tool catalog} fits the budget,
// re-repairing after each eviction since removing a round can orphan a tool
// call/result pair at the new head. The estimator is injectable; when it
// fails or returns an unusable value the cost is unknown and the loop stops
// rather than evicting blind.
func EnsureBudget(ctx context.Context, messages []Message, system string, tools []ToolSpec, model string, cfg WindowConfig, est TokenEstimator) []Message {
	cfg = cfg.withDefaults()
	if len(messages) <= cfg.MinRetainedTurns {
		return messages
	}
	if cfg.MaxContextTokens <= 0 || est == nil {
		return Repair(messages)
	}

	budget := int(float64(cfg.MaxContextTokens) * cfg.SafetyMarginRatio)

	// Each eviction removes a whole round, so the guard checks the length
	// after the slice, not before: an odd-length transcript one turn above
	// the floor must not be cut below it.
	for len(messages)-2 >= cfg.MinRetainedTurns {
		cost, err := est.CountTokens(ctx, Request{
			Model:    model,
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil || cost <= 0 {
			break
		}
		if cost <= budget {
			break
		}
		// Drop the oldest round: one user turn plus one assistant turn.
		messages = Repair(messages[2:])
	}

	// The caller may have touched the transcript since the last repair; one
	// more pass costs little and keeps the invariant unconditional.
	return Repair(messages)
}
