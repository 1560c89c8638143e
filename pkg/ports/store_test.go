package ports_test

import (
	"context"
	"testing"

	"github.com/aretw0/menuflow/pkg/domain"
	"github.com/aretw0/menuflow/pkg/ports"
)

// MockStore is a minimal map-backed implementation of StateStore for testing the contract itself.
type MockStore struct {
	data map[domain.ConversationKey]*domain.Conversation
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[domain.ConversationKey]*domain.Conversation),
	}
}

func (m *MockStore) Save(ctx context.Context, conv *domain.Conversation) error {
	m.data[conv.Key] = conv.Clone()
	return nil
}

func (m *MockStore) Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	conv, ok := m.data[key]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (m *MockStore) List(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error) {
	var keys []domain.ConversationKey
	for k := range m.data {
		if k.Kind == kind {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestMockStore_Contract(t *testing.T) {
	ports.RunStateStoreContract(t, NewMockStore())
}
