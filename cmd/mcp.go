package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcpchat/mcpchat/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP (Model Context Protocol) servers",
	Long: `Manage the MCP servers mcpchat exposes as tools during chat.

Examples:
  mcpchat mcp list
  mcpchat mcp add fs --command npx --args -y,@modelcontextprotocol/server-filesystem,/tmp
  mcpchat mcp add git --command uvx --args mcp-server-git --env GIT_DIR=/repo/.git
  mcpchat mcp remove fs
  mcpchat mcp test fs
  mcpchat mcp path`,
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE:  mcpList,
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an MCP server",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpAdd,
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an MCP server",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpRemove,
}

var mcpTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Test an MCP server connection",
	Args:  cobra.ExactArgs(1),
	RunE:  mcpTest,
}

var mcpPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print MCP configuration file path",
	RunE:  mcpPath,
}

var (
	mcpAddCommand string
	mcpAddArgs    []string
	mcpAddEnv     []string
)

func init() {
	mcpAddCmd.Flags().StringVar(&mcpAddCommand, "command", "", "Executable to launch (required)")
	mcpAddCmd.Flags().StringSliceVar(&mcpAddArgs, "args", nil, "Arguments for the command, comma-separated")
	mcpAddCmd.Flags().StringArrayVar(&mcpAddEnv, "env", nil, "Environment variables as KEY=VALUE (repeatable)")
	_ = mcpAddCmd.MarkFlagRequired("command")

	rootCmd.AddCommand(mcpCmd)
	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	mcpCmd.AddCommand(mcpTestCmd)
	mcpCmd.AddCommand(mcpPathCmd)
}

func mcpList(cmd *cobra.Command, args []string) error {
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return err
	}
	names := cfg.ServerNames()
	if len(names) == 0 {
		fmt.Println("No MCP servers configured. Add one with 'mcpchat mcp add'.")
		return nil
	}
	for _, name := range names {
		sc := cfg.Servers[name]
		line := sc.Command
		if len(sc.Args) > 0 {
			line += " " + strings.Join(sc.Args, " ")
		}
		fmt.Printf("  %-20s %s\n", name, line)
	}
	return nil
}

func mcpAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	if strings.Contains(name, "__") {
		return fmt.Errorf("server name %q must not contain '__'", name)
	}

	env := make(map[string]string, len(mcpAddEnv))
	for _, kv := range mcpAddEnv {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", kv)
		}
		env[key] = value
	}

	sc := mcp.ServerConfig{
		Command: mcpAddCommand,
		Args:    mcpAddArgs,
		Env:     env,
	}
	if err := sc.Validate(); err != nil {
		return err
	}

	cfg, err := mcp.LoadConfig()
	if err != nil {
		return err
	}
	cfg.AddServer(name, sc)
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("Added MCP server %q.\n", name)
	return nil
}

func mcpRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg, err := mcp.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.RemoveServer(name) {
		return fmt.Errorf("no MCP server named %q", name)
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("Removed MCP server %q.\n", name)
	return nil
}

func mcpTest(cmd *cobra.Command, args []string) error {
	name := args[0]
	manager := mcp.NewManager()
	if err := manager.LoadConfig(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := manager.Start(ctx, name); err != nil {
		return fmt.Errorf("server %q failed: %w", name, err)
	}
	defer manager.StopAll()

	tools := manager.AllTools()
	fmt.Printf("Server %q started in %s with %d tools:\n", name, time.Since(start).Round(time.Millisecond), len(tools))
	for _, t := range tools {
		fmt.Printf("  %s\n", t.Name)
	}
	return nil
}

func mcpPath(cmd *cobra.Command, args []string) error {
	path, err := mcp.DefaultConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
