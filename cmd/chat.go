package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mcpchat/mcpchat/internal/chat"
	"github.com/mcpchat/mcpchat/internal/mcp"
	"github.com/mcpchat/mcpchat/internal/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the model",
	Long: `Chat with the model, with tool calling against configured MCP servers.

With a prompt argument, runs a single query and exits. Without one, opens
an interactive loop. The last conversation is resumed unless --new is given.

Interactive commands:
  /reset    clear the conversation
  /tools    list available tools
  /exit     quit`,
	RunE: runChat,
}

var (
	chatProvider string
	chatModel    string
	chatNew      bool
	chatNoTools  bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Override provider (anthropic, openai)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Override model")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start a fresh conversation instead of resuming")
	chatCmd.Flags().BoolVar(&chatNoTools, "no-tools", false, "Disable MCP tool calling")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(chatProvider, chatModel)

	service, err := chat.NewService(cfg.ServiceConfig())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.NewStore(cfg.Sessions)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	conv, err := resolveConversation(ctx, store, cfg.Provider, cfg.ActiveModel())
	if err != nil {
		return err
	}
	bound := session.Bind(store, conv.ID)

	engine := chat.NewEngine(service, bound, cfg.EngineSettings())
	history, err := bound.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load conversation %s: %w", session.ShortID(conv.ID), err)
	}
	engine.Restore(history)

	var gateway chat.ToolGateway
	if !chatNoTools {
		manager := mcp.NewManager()
		if err := manager.LoadConfig(); err != nil {
			return err
		}
		manager.OnCatalogChange(engine.SetToolCatalog)
		for name, startErr := range manager.StartAll(ctx) {
			fmt.Fprintf(os.Stderr, "warning: MCP server %s failed to start: %v\n", name, startErr)
		}
		defer manager.StopAll()
		engine.SetToolCatalog(manager.AllTools())
		gateway = manager
	}

	if len(args) > 0 {
		return engine.ProcessQuery(ctx, gateway, strings.Join(args, " "), printPart)
	}
	return chatLoop(ctx, engine, gateway)
}

// resolveConversation picks the conversation to chat in: the current one
// unless --new was given or none exists, in which case a new one is created
// and marked current.
func resolveConversation(ctx context.Context, store session.Store, provider, model string) (*session.Conversation, error) {
	if !chatNew {
		conv, err := store.GetCurrent(ctx)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	}
	conv, err := store.CreateConversation(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	if err := store.SetCurrent(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

func chatLoop(ctx context.Context, engine *chat.Engine, gateway chat.ToolGateway) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/reset":
			engine.Reset()
			fmt.Println("Conversation cleared.")
			continue
		case "/tools":
			printTools(ctx, gateway)
			continue
		}

		err := engine.ProcessQuery(ctx, gateway, line, printPart)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		fmt.Println()
	}
}

func printTools(ctx context.Context, gateway chat.ToolGateway) {
	if gateway == nil {
		fmt.Println("Tools are disabled.")
		return
	}
	tools, err := gateway.ListTools(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(tools) == 0 {
		fmt.Println("No tools available.")
		return
	}
	for _, t := range tools {
		fmt.Printf("  %-40s %s\n", t.Name, truncate(t.Description, 60))
	}
}

// printPart renders engine events as they happen.
func printPart(role chat.Role, part chat.Part) {
	switch part.Type {
	case chat.PartText:
		if role == chat.RoleAssistant {
			fmt.Println(part.Text)
		}
	case chat.PartToolCall:
		args := string(part.ToolCall.Arguments)
		if len(args) > 120 {
			args = args[:117] + "..."
		}
		fmt.Printf("→ %s %s\n", part.ToolCall.Name, args)
	case chat.PartToolResult:
		label := "←"
		if part.ToolResult.IsError {
			label = "← error:"
		}
		content := part.ToolResult.Content
		if len(content) > 200 {
			content = content[:197] + "..."
		}
		fmt.Printf("%s %s\n", label, strings.ReplaceAll(content, "\n", " "))
	case chat.PartImage:
		fmt.Printf("[image %s]\n", part.Image.MimeType)
	}
}
