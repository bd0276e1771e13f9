package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcpchat/mcpchat/internal/chat"
	"github.com/mcpchat/mcpchat/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
	Long: `List, show, resume, and delete stored conversations.

Examples:
  mcpchat sessions                  # list recent conversations
  mcpchat sessions show 3f2a1b0c
  mcpchat sessions resume 3f2a1b0c  # make it the one 'chat' continues
  mcpchat sessions delete 3f2a1b0c
  mcpchat sessions reset            # delete the whole database`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Mark a conversation as current",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsResume,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all conversations (requires confirmation)",
	Long: `Delete the conversations database entirely. This cannot be undone.

You must type 'yes' to confirm.`,
	RunE: runSessionsReset,
}

// Top-level alias: 'mcpchat reset' detaches the current conversation so the
// next chat starts fresh. The stored transcript is kept.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start the next chat with a fresh conversation",
	RunE:  runReset,
}

var sessionsLimit int

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of conversations to list")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum number of conversations to list")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResumeCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ClearCurrent(context.Background()); err != nil {
		return err
	}
	fmt.Println("Next chat will start a fresh conversation.")
	return nil
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, fmt.Errorf("conversation storage is disabled in config")
	}
	return session.NewStore(cfg.Sessions)
}

// resolveConversationID accepts a full ID or a unique prefix.
func resolveConversationID(ctx context.Context, store session.Store, arg string) (string, error) {
	conv, err := store.GetConversation(ctx, arg)
	if err == nil && conv != nil {
		return conv.ID, nil
	}

	all, err := store.ListConversations(ctx, 1000)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, c := range all {
		if strings.HasPrefix(c.ID, arg) {
			matches = append(matches, c.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no conversation matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches)", arg, len(matches))
	}
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	convs, err := store.ListConversations(ctx, sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	current, _ := store.GetCurrent(ctx)

	fmt.Printf("%-10s %-40s %-10s %5s %s\n", "ID", "SUMMARY", "PROVIDER", "TURNS", "AGE")
	fmt.Println(strings.Repeat("-", 80))
	for _, c := range convs {
		summary := c.Summary
		if len(summary) > 40 {
			summary = summary[:37] + "..."
		}
		marker := " "
		if current != nil && current.ID == c.ID {
			marker = "*"
		}
		fmt.Printf("%-10s %-40s %-10s %5d %s\n",
			marker+session.ShortID(c.ID), summary, c.Provider, c.TurnCount, formatRelativeTime(c.UpdatedAt))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveConversationID(ctx, store, args[0])
	if err != nil {
		return err
	}

	conv, err := store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	stored, err := store.GetTurns(ctx, id)
	if err != nil {
		return err
	}
	messages, err := session.DecodeTurns(stored)
	if err != nil {
		return err
	}

	fmt.Printf("Conversation %s (%s/%s, %d turns, updated %s)\n\n",
		session.ShortID(conv.ID), conv.Provider, conv.Model, conv.TurnCount,
		formatRelativeTime(conv.UpdatedAt))
	for _, msg := range messages {
		printTranscriptTurn(msg)
	}
	return nil
}

func printTranscriptTurn(msg chat.Message) {
	fmt.Printf("[%s]\n", msg.Role)
	for _, part := range msg.Parts {
		switch part.Type {
		case chat.PartText:
			fmt.Println(part.Text)
		case chat.PartToolCall:
			fmt.Printf("  call %s %s %s\n", part.ToolCall.ID, part.ToolCall.Name, string(part.ToolCall.Arguments))
		case chat.PartToolResult:
			status := "ok"
			if part.ToolResult.IsError {
				status = "error"
			}
			fmt.Printf("  result %s (%s): %s\n", part.ToolResult.ID, status, truncate(part.ToolResult.Content, 200))
		case chat.PartImage:
			fmt.Printf("  image %s\n", part.Image.MimeType)
		}
	}
	fmt.Println()
}

func runSessionsResume(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveConversationID(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.SetCurrent(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Conversation %s is now current.\n", session.ShortID(id))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := resolveConversationID(ctx, store, args[0])
	if err != nil {
		return err
	}
	if err := store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted conversation %s.\n", session.ShortID(id))
	return nil
}

func runSessionsReset(cmd *cobra.Command, args []string) error {
	dbPath, err := session.GetDBPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No conversations database found.")
		return nil
	}

	fmt.Printf("This will delete all conversations at %s\n", dbPath)
	fmt.Print("Type 'yes' to confirm: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	fmt.Println("Conversations deleted.")
	return nil
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
