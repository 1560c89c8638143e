// Package memory provides in-memory adapters for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[domain.ConversationKey]*domain.Conversation
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[domain.ConversationKey]*domain.Conversation),
	}
}

// Save persists the conversation in memory.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	// Deep copy to ensure isolation, similar to serialization
	copied := conv.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conv.Key] = copied
	return nil
}

// Load retrieves the conversation from memory.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.data[key]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}

	// Copy on read so callers can't mutate the stored conversation through the pointer
	return conv.Clone(), nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns the stored conversations of a kind, sorted by key.
func (s *Store) List(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.ConversationKey, 0, len(s.data))
	for k := range s.data {
		if k.Kind == kind {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
