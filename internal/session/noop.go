package session

import "context"

// NoopStore is used when persistence is disabled. Every operation succeeds
// and stores nothing.
type NoopStore struct{}

// NewNoopStore creates a no-op store.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (n *NoopStore) CreateConversation(_ context.Context, provider, model string) (*Conversation, error) {
	return &Conversation{ID: "noop", Provider: provider, Model: model}, nil
}

func (n *NoopStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	return &Conversation{ID: id}, nil
}

func (n *NoopStore) ListConversations(context.Context, int) ([]Conversation, error) {
	return nil, nil
}

func (n *NoopStore) DeleteConversation(context.Context, string) error { return nil }

func (n *NoopStore) ReplaceTurns(context.Context, string, []StoredTurn) error { return nil }

func (n *NoopStore) GetTurns(context.Context, string) ([]StoredTurn, error) { return nil, nil }

func (n *NoopStore) SetCurrent(context.Context, string) error { return nil }

func (n *NoopStore) GetCurrent(context.Context) (*Conversation, error) { return nil, nil }

func (n *NoopStore) ClearCurrent(context.Context) error { return nil }

func (n *NoopStore) Close() error { return nil }
