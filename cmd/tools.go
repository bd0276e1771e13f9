package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mcpchat/mcpchat/internal/mcp"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools across all configured MCP servers",
	Long: `Start every configured MCP server and list the tools they expose.

Tool names are prefixed with the server name, which is how the model
addresses them during chat.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	manager := mcp.NewManager()
	if err := manager.LoadConfig(); err != nil {
		return err
	}
	if len(manager.AvailableServers()) == 0 {
		fmt.Println("No MCP servers configured. Add one with 'mcpchat mcp add'.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for name, err := range manager.StartAll(ctx) {
		fmt.Fprintf(os.Stderr, "warning: MCP server %s failed to start: %v\n", name, err)
	}
	defer manager.StopAll()

	tools := manager.AllTools()
	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return nil
	}
	for _, t := range tools {
		fmt.Printf("  %-40s %s\n", t.Name, truncate(t.Description, 70))
	}
	return nil
}
