package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mcpchat/mcpchat/internal/chat"
	"github.com/mcpchat/mcpchat/internal/session"
)

// Config is the application configuration, read from config.yaml.
type Config struct {
	Provider     string          `mapstructure:"provider"`
	SystemPrompt string          `mapstructure:"system_prompt"`
	Anthropic    AnthropicConfig `mapstructure:"anthropic"`
	OpenAI       OpenAIConfig    `mapstructure:"openai"`
	Engine       EngineConfig    `mapstructure:"engine"`
	Sessions     session.Config  `mapstructure:"sessions"`
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OpenAIConfig configures the OpenAI provider. BaseURL targets
// OpenAI-compatible endpoints when set.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// EngineConfig holds the conversation engine knobs.
type EngineConfig struct {
	MaxOutputTokens      int         `mapstructure:"max_output_tokens"`
	MaxToolCallsPerQuery int         `mapstructure:"max_tool_calls_per_query"`
	ToolCallTimeoutSec   int         `mapstructure:"tool_call_timeout_sec"`
	MaxContextTokens     int         `mapstructure:"max_context_tokens"`
	SafetyMarginRatio    float64     `mapstructure:"safety_margin_ratio"`
	MinRetainedTurns     int         `mapstructure:"min_retained_turns"`
	Retry                RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds the completion retry knobs.
type RetryConfig struct {
	MaxRetries  int `mapstructure:"max_retries"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
}

// GetConfigDir returns the XDG config directory for mcpchat.
func GetConfigDir() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "mcpchat"), nil
}

// Load reads the configuration. A missing config file yields defaults.
func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "anthropic")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("openai.model", "gpt-5.2")
	v.SetDefault("engine.max_output_tokens", 4096)
	v.SetDefault("engine.max_tool_calls_per_query", 25)
	v.SetDefault("engine.tool_call_timeout_sec", 60)
	v.SetDefault("engine.max_context_tokens", 200000)
	v.SetDefault("engine.safety_margin_ratio", 0.99)
	v.SetDefault("engine.min_retained_turns", 2)
	v.SetDefault("engine.retry.max_retries", 3)
	v.SetDefault("engine.retry.base_delay_ms", 2000)
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.max_age_days", 0)
	v.SetDefault("sessions.max_count", 0)
}

// ApplyOverrides applies command-line provider and model overrides.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model != "" {
		switch c.Provider {
		case "anthropic":
			c.Anthropic.Model = model
		case "openai":
			c.OpenAI.Model = model
		}
	}
}

// ActiveModel returns the model name for the active provider.
func (c *Config) ActiveModel() string {
	switch c.Provider {
	case "openai":
		return c.OpenAI.Model
	default:
		return c.Anthropic.Model
	}
}

// ServiceConfig maps the configuration onto the completion service factory.
func (c *Config) ServiceConfig() chat.ServiceConfig {
	var sc chat.ServiceConfig
	sc.Provider = c.Provider
	sc.Anthropic.APIKey = c.Anthropic.APIKey
	sc.Anthropic.Model = c.Anthropic.Model
	sc.OpenAI.APIKey = c.OpenAI.APIKey
	sc.OpenAI.Model = c.OpenAI.Model
	sc.OpenAI.BaseURL = c.OpenAI.BaseURL
	return sc
}

// EngineSettings maps the configuration onto engine settings.
func (c *Config) EngineSettings() chat.Settings {
	return chat.Settings{
		SystemPrompt:         c.SystemPrompt,
		Model:                c.ActiveModel(),
		MaxOutputTokens:      c.Engine.MaxOutputTokens,
		MaxToolCallsPerQuery: c.Engine.MaxToolCallsPerQuery,
		ToolCallTimeout:      time.Duration(c.Engine.ToolCallTimeoutSec) * time.Second,
		Window: chat.WindowConfig{
			MaxContextTokens:  c.Engine.MaxContextTokens,
			SafetyMarginRatio: c.Engine.SafetyMarginRatio,
			MinRetainedTurns:  c.Engine.MinRetainedTurns,
		},
		Retry: chat.RetryConfig{
			MaxRetries: c.Engine.Retry.MaxRetries,
			BaseDelay:  time.Duration(c.Engine.Retry.BaseDelayMs) * time.Millisecond,
		},
	}
}
