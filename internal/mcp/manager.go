package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/mcpchat/mcpchat/internal/chat"
)

// ServerStatus represents the current state of an MCP server.
type ServerStatus string

const (
	StatusStopped  ServerStatus = "stopped"
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusFailed   ServerStatus = "failed"
)

// ServerState holds the state of a managed MCP server.
type ServerState struct {
	Name   string
	Status ServerStatus
	Error  error
	Client *Client
}

// Manager owns MCP server lifecycle and routes tool calls. It implements the
// engine's tool gateway: tool names are prefixed "servername__toolname" to
// keep the combined catalog collision free.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	clients  map[string]*Client
	statuses map[string]*ServerState

	// onCatalogChange fires whenever the combined tool catalog may have
	// changed: server start, stop, or an in-band tool list notification.
	onCatalogChange func([]chat.ToolSpec)
}

// NewManager creates a new MCP manager.
func NewManager() *Manager {
	return &Manager{
		clients:  make(map[string]*Client),
		statuses: make(map[string]*ServerState),
	}
}

// LoadConfig loads the MCP configuration from the default path.
func (m *Manager) LoadConfig() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// SetConfig replaces the configuration directly. Used by tests and callers
// that load mcp.json themselves.
func (m *Manager) SetConfig(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// OnCatalogChange registers the catalog subscriber. There is one consumer,
// the engine's SetToolCatalog; registration replaces any previous callback.
func (m *Manager) OnCatalogChange(fn func([]chat.ToolSpec)) {
	m.mu.Lock()
	m.onCatalogChange = fn
	m.mu.Unlock()
}

func (m *Manager) notifyCatalogChange() {
	m.mu.RLock()
	fn := m.onCatalogChange
	m.mu.RUnlock()
	if fn != nil {
		fn(m.AllTools())
	}
}

// AvailableServers returns the names of all configured servers, sorted.
func (m *Manager) AvailableServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil
	}
	names := m.config.ServerNames()
	sort.Strings(names)
	return names
}

// ServerStatusFor returns the current status of a server.
func (m *Manager) ServerStatusFor(name string) (ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.statuses[name]
	if !ok {
		return StatusStopped, nil
	}
	return state.Status, state.Error
}

// StartAll connects every configured server, synchronously. Servers that
// fail to start are reported in the returned map and left in the failed
// state; the rest keep running.
func (m *Manager) StartAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range m.AvailableServers() {
		if err := m.Start(ctx, name); err != nil {
			failures[name] = err
		}
	}
	return failures
}

// Start connects one configured server and publishes its tools.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.config == nil {
		m.mu.Unlock()
		return fmt.Errorf("no MCP configuration loaded")
	}
	serverCfg, ok := m.config.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown MCP server: %s", name)
	}
	if state, ok := m.statuses[name]; ok {
		if state.Status == StatusStarting || state.Status == StatusReady {
			m.mu.Unlock()
			return nil
		}
	}

	client := NewClient(name, serverCfg)
	client.SetToolsChangedHandler(m.notifyCatalogChange)
	m.clients[name] = client
	m.statuses[name] = &ServerState{
		Name:   name,
		Status: StatusStarting,
		Client: client,
	}
	m.mu.Unlock()

	err := client.Start(ctx)

	m.mu.Lock()
	state := m.statuses[name]
	if err != nil {
		state.Status = StatusFailed
		state.Error = err
		delete(m.clients, name)
	} else {
		state.Status = StatusReady
		state.Error = nil
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.notifyCatalogChange()
	return nil
}

// Stop shuts one server down.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	client, ok := m.clients[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.clients, name)
	if state, ok := m.statuses[name]; ok {
		state.Status = StatusStopped
		state.Error = nil
		state.Client = nil
	}
	m.mu.Unlock()

	err := client.Stop()
	m.notifyCatalogChange()
	return err
}

// StopAll shuts every running server down.
func (m *Manager) StopAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.statuses = make(map[string]*ServerState)
	m.mu.Unlock()

	for _, c := range clients {
		c.Stop()
	}
}

// AllTools returns the combined catalog across running servers, with names
// prefixed by server. Sorted by name so snapshots are stable.
func (m *Manager) AllTools() []chat.ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []chat.ToolSpec
	for name, state := range m.statuses {
		if state.Status != StatusReady || state.Client == nil {
			continue
		}
		for _, tool := range state.Client.Tools() {
			all = append(all, chat.ToolSpec{
				Name:        fmt.Sprintf("%s__%s", name, tool.Name),
				Description: fmt.Sprintf("[%s] %s", name, tool.Description),
				Schema:      tool.Schema,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// ListTools implements the gateway interface.
func (m *Manager) ListTools(_ context.Context) ([]chat.ToolSpec, error) {
	return m.AllTools(), nil
}

// Invoke routes a prefixed tool call to its server.
func (m *Manager) Invoke(ctx context.Context, fullName string, args json.RawMessage) (*chat.GatewayResult, error) {
	serverName, toolName := parseToolName(fullName)
	if serverName == "" {
		return nil, fmt.Errorf("invalid MCP tool name: %s (expected servername__toolname)", fullName)
	}

	m.mu.RLock()
	state, ok := m.statuses[serverName]
	m.mu.RUnlock()

	if !ok || state.Status != StatusReady || state.Client == nil {
		return nil, fmt.Errorf("MCP server %s is not running", serverName)
	}

	return state.Client.CallTool(ctx, toolName, args)
}

// parseToolName extracts server name and tool name from a prefixed name.
func parseToolName(fullName string) (serverName, toolName string) {
	for i := 0; i < len(fullName)-1; i++ {
		if fullName[i] == '_' && fullName[i+1] == '_' {
			return fullName[:i], fullName[i+2:]
		}
	}
	return "", fullName
}
