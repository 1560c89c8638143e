package ports

import (
	"context"

	"github.com/aretw0/menuflow/pkg/domain"
)

// StateStore defines the interface for persisting conversation state.
// Room and Route conversations are stored independently, selected by the key kind.
type StateStore interface {
	// Save persists the full conversation atomically (single row, no cross-conversation locking).
	Save(ctx context.Context, conv *domain.Conversation) error

	// Load retrieves a conversation.
	// Returns domain.ErrConversationNotFound if the conversation does not exist.
	Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error)

	// List returns the keys of the stored conversations of a kind.
	List(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error)
}

// ClientStore reads client records.
type ClientStore interface {
	// GetClient returns domain.ErrClientNotFound if the client does not exist.
	GetClient(ctx context.Context, id string) (*domain.Client, error)
}

// UserStore reads the identity mapping of the engine's own accounts.
type UserStore interface {
	// GetUser returns domain.ErrUserNotFound if the mxid is not registered.
	GetUser(ctx context.Context, mxid string) (*domain.User, error)
}
