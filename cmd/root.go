package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpchat",
	Short: "Multi-turn LLM chat with MCP tool calling",
	Long: `mcpchat is a terminal chat client for LLMs with tool calling over
MCP (Model Context Protocol) servers.

Examples:
  mcpchat chat                          # interactive chat, resumes last conversation
  mcpchat chat "what changed in git?"   # one-shot query
  mcpchat chat --new                    # start a fresh conversation
  mcpchat chat -p openai --model gpt-5.2

  mcpchat mcp list                      # list configured MCP servers
  mcpchat mcp add fs --command npx --args -y,@modelcontextprotocol/server-filesystem,/tmp
  mcpchat tools                         # list tools across running servers

  mcpchat sessions                      # list stored conversations
  mcpchat config                        # view configuration`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
