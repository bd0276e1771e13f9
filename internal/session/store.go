package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Conversation is one persisted chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// Store is the interface for conversation persistence.
type Store interface {
	CreateConversation(ctx context.Context, provider, model string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Turn operations store the full transcript; the engine snapshots the
	// whole conversation after each committed turn.
	ReplaceTurns(ctx context.Context, id string, turns []StoredTurn) error
	GetTurns(ctx context.Context, id string) ([]StoredTurn, error)

	// Current conversation tracking (for auto-resume).
	SetCurrent(ctx context.Context, id string) error
	GetCurrent(ctx context.Context) (*Conversation, error)
	ClearCurrent(ctx context.Context) error

	Close() error
}

// Config holds conversation storage configuration.
type Config struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxCount   int  `mapstructure:"max_count"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		MaxAgeDays: 0,
		MaxCount:   0,
	}
}

// GetDataDir returns the XDG data directory for mcpchat.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "mcpchat"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mcpchat"), nil
}

// GetDBPath returns the path to the conversations database.
func GetDBPath() (string, error) {
	dataDir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "conversations.db"), nil
}

// NewStore creates a Store based on the configuration. Disabled persistence
// yields a no-op store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return NewNoopStore(), nil
	}
	return NewSQLiteStore(cfg)
}

// ShortID returns the first eight characters of a conversation ID for
// display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
