package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    summary TEXT,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    parts TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_conversation_sequence ON turns(conversation_id, sequence);

-- Metadata table for current conversation tracking
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT
);
`

// NewSQLiteStore creates a new SQLite-backed conversation store at the
// default database path.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath, err := GetDBPath()
	if err != nil {
		return nil, fmt.Errorf("get db path: %w", err)
	}
	return NewSQLiteStoreAtPath(cfg, dbPath)
}

// NewSQLiteStoreAtPath creates the store at an explicit path. Used by tests.
func NewSQLiteStoreAtPath(cfg Config, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}

	if err := store.cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: conversation cleanup failed: %v\n", err)
	}

	return store, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a fresh conversation row.
func (s *SQLiteStore) CreateConversation(ctx context.Context, provider, model string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, provider, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.Provider, conv.Model, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads one conversation's metadata.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, COALESCE(c.summary, ''), c.provider, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?
	`, id)

	var conv Conversation
	err := row.Scan(&conv.ID, &conv.Summary, &conv.Provider, &conv.Model,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.TurnCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns conversations newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, COALESCE(c.summary, ''), c.provider, c.model, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Summary, &conv.Provider, &conv.Model,
			&conv.CreatedAt, &conv.UpdatedAt, &conv.TurnCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, via cascade, its turns.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ReplaceTurns overwrites the stored transcript with the given snapshot.
// Last write wins; the engine serializes its own snapshots.
func (s *SQLiteStore) ReplaceTurns(ctx context.Context, id string, turns []StoredTurn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	for seq, turn := range turns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO turns (conversation_id, role, parts, sequence)
			VALUES (?, ?, ?, ?)
		`, id, turn.Role, turn.Parts, seq)
		if err != nil {
			return fmt.Errorf("insert turn %d: %w", seq, err)
		}
	}

	summary := summaryText(turns)
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET updated_at = ?, summary = CASE WHEN ? != '' THEN ? ELSE summary END
		WHERE id = ?
	`, time.Now().UTC(), summary, summary, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// GetTurns loads the stored transcript in sequence order.
func (s *SQLiteStore) GetTurns(ctx context.Context, id string) ([]StoredTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, parts FROM turns
		WHERE conversation_id = ?
		ORDER BY sequence ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []StoredTurn
	for rows.Next() {
		var turn StoredTurn
		if err := rows.Scan(&turn.Role, &turn.Parts); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// SetCurrent records the conversation to auto-resume.
func (s *SQLiteStore) SetCurrent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ('current_conversation', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, id)
	return err
}

// GetCurrent returns the auto-resume conversation, or nil when unset.
func (s *SQLiteStore) GetCurrent(ctx context.Context) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = 'current_conversation'`)
	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		// Stale pointer to a deleted conversation.
		return nil, nil
	}
	return conv, nil
}

// ClearCurrent forgets the auto-resume pointer.
func (s *SQLiteStore) ClearCurrent(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata WHERE key = 'current_conversation'`)
	return err
}

// cleanup applies the retention policy.
func (s *SQLiteStore) cleanup() error {
	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.Exec(
			`DELETE FROM conversations WHERE updated_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxCount > 0 {
		if _, err := s.db.Exec(`
			DELETE FROM conversations WHERE id NOT IN (
				SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?
			)
		`, s.cfg.MaxCount); err != nil {
			return err
		}
	}
	return nil
}
