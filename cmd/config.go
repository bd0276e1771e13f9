package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/mcpchat/mcpchat/internal/config"
	"github.com/mcpchat/mcpchat/internal/mcp"
	"github.com/mcpchat/mcpchat/internal/session"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show active configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// loadConfig is the single entry point commands use to read configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	configDir, _ := config.GetConfigDir()
	mcpPath, _ := mcp.DefaultConfigPath()
	dbPath, _ := session.GetDBPath()

	fmt.Printf("Provider:       %s\n", cfg.Provider)
	fmt.Printf("Model:          %s\n", cfg.ActiveModel())
	if cfg.SystemPrompt != "" {
		fmt.Printf("System prompt:  %s\n", truncate(cfg.SystemPrompt, 60))
	}
	fmt.Println()
	fmt.Printf("Max output tokens:    %d\n", cfg.Engine.MaxOutputTokens)
	fmt.Printf("Max tool calls/query: %d\n", cfg.Engine.MaxToolCallsPerQuery)
	fmt.Printf("Tool call timeout:    %ds\n", cfg.Engine.ToolCallTimeoutSec)
	fmt.Printf("Context window:       %d tokens (margin %.2f, keep %d turns)\n",
		cfg.Engine.MaxContextTokens, cfg.Engine.SafetyMarginRatio, cfg.Engine.MinRetainedTurns)
	fmt.Printf("Retry:                %d attempts, base delay %dms\n",
		cfg.Engine.Retry.MaxRetries, cfg.Engine.Retry.BaseDelayMs)
	fmt.Println()
	fmt.Printf("Config file:    %s\n", filepath.Join(configDir, "config.yaml"))
	fmt.Printf("MCP servers:    %s\n", mcpPath)
	if cfg.Sessions.Enabled {
		fmt.Printf("Conversations:  %s\n", dbPath)
	} else {
		fmt.Println("Conversations:  disabled")
	}

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
