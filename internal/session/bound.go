package session

import (
	"context"

	"github.com/mcpchat/mcpchat/internal/chat"
)

// BoundStore ties a Store to one conversation id and adapts it to the
// engine's persistence interface.
type BoundStore struct {
	store Store
	id    string
}

// Bind creates the engine-facing view of one conversation.
func Bind(store Store, id string) *BoundStore {
	return &BoundStore{store: store, id: id}
}

// ID returns the bound conversation id.
func (b *BoundStore) ID() string {
	return b.id
}

// Load reads the persisted transcript.
func (b *BoundStore) Load(ctx context.Context) ([]chat.Message, error) {
	turns, err := b.store.GetTurns(ctx, b.id)
	if err != nil {
		return nil, err
	}
	return DecodeTurns(turns)
}

// Save replaces the persisted transcript with the given snapshot.
func (b *BoundStore) Save(ctx context.Context, messages []chat.Message) error {
	turns, err := EncodeTurns(messages)
	if err != nil {
		return err
	}
	return b.store.ReplaceTurns(ctx, b.id, turns)
}
