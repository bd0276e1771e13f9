package chat

import "fmt"

// ServiceConfig carries the provider selection and per-provider settings
// needed to construct a CompletionService.
type ServiceConfig struct {
	Provider string

	Anthropic struct {
		APIKey string
		Model  string
	}
	OpenAI struct {
		APIKey  string
		Model   string
		BaseURL string
	}
}

// NewService builds the CompletionService for the configured provider.
func NewService(cfg ServiceConfig) (CompletionService, error) {
	switch cfg.Provider {
	case "anthropic", "":
		return NewAnthropicService(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "openai":
		return NewOpenAIService(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	default:
		return nil, fmt.Errorf("unknown provider '%s' (supported: anthropic, openai)", cfg.Provider)
	}
}
