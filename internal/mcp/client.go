package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpchat/mcpchat/internal/chat"
)

// Client wraps one MCP server connection.
type Client struct {
	name   string
	config ServerConfig

	// onToolsChanged fires after the tool list has been refreshed in
	// response to a server notification.
	onToolsChanged func()

	mu      sync.RWMutex
	client  *mcp.Client
	session *mcp.ClientSession
	tools   []chat.ToolSpec
	running bool
}

// NewClient creates a new MCP client for the given server configuration.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{
		name:   name,
		config: config,
	}
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// SetToolsChangedHandler registers the callback invoked when the server
// announces a tool list change. Must be called before Start.
func (c *Client) SetToolsChangedHandler(fn func()) {
	c.onToolsChanged = fn
}

// Start connects to the MCP server and initializes the session.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.client = mcp.NewClient(&mcp.Implementation{
		Name:    "mcpchat",
		Version: "1.0.0",
	}, &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, _ *mcp.ToolListChangedRequest) {
			c.handleToolListChanged(ctx)
		},
	})

	transport := c.createStdioTransport(ctx)
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("connect to MCP server %s: %w", c.name, err)
	}
	c.session = session

	if err := c.refreshToolsLocked(ctx); err != nil {
		c.session.Close()
		c.session = nil
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}

	c.running = true
	return nil
}

// createStdioTransport builds the subprocess transport. Custom env vars are
// layered over the parent environment; with none configured, cmd.Env stays
// nil and the subprocess inherits everything.
func (c *Client) createStdioTransport(ctx context.Context) mcp.Transport {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.config.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return &mcp.CommandTransport{Command: cmd}
}

// Stop closes the MCP server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	c.tools = nil
	return err
}

// IsRunning returns whether the client is connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Tools returns the current tool list snapshot from this server.
func (c *Client) Tools() []chat.ToolSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// handleToolListChanged re-fetches the catalog and fans the change out.
// The transcript is never touched; only the catalog snapshot moves.
func (c *Client) handleToolListChanged(ctx context.Context) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return
	}
	err := c.refreshToolsLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return
	}
	if c.onToolsChanged != nil {
		c.onToolsChanged()
	}
}

func (c *Client) refreshToolsLocked(ctx context.Context) error {
	result, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return err
	}

	c.tools = make([]chat.ToolSpec, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := make(map[string]any)
		if t.InputSchema != nil {
			if m, ok := t.InputSchema.(map[string]any); ok {
				schema = m
			}
		}
		c.tools = append(c.tools, chat.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schema,
		})
	}
	return nil
}

// CallTool invokes a tool on the MCP server. A tool-reported error comes
// back as an IsError result, not a Go error: the model is expected to see it
// and react.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*chat.GatewayResult, error) {
	c.mu.RLock()
	session := c.session
	running := c.running
	c.mu.RUnlock()

	if !running || session == nil {
		return nil, fmt.Errorf("MCP server %s is not running", c.name)
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	out := &chat.GatewayResult{IsError: result.IsError}
	for _, content := range result.Content {
		switch v := content.(type) {
		case *mcp.TextContent:
			out.Items = append(out.Items, chat.GatewayItem{Text: v.Text})
		default:
			if data, err := json.Marshal(content); err == nil {
				out.Items = append(out.Items, chat.GatewayItem{Text: string(data)})
			}
		}
	}
	return out, nil
}
