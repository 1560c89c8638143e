// Package file stores conversations as JSON documents on the local filesystem.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// DefaultBasePath is used when New is given an empty path.
var DefaultBasePath = filepath.Join(".menuflow", "conversations")

const ext = ".json"

// Store implements ports.StateStore with one file per conversation under
// <BasePath>/<kind>/. File names are the URL-safe base64 of the key, since
// room ids carry characters that are not portable in paths.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// New creates a new Store with the given base path.
func New(basePath string) *Store {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Store{BasePath: basePath}
}

func (s *Store) dir(kind domain.ConversationKind) string {
	return filepath.Join(s.BasePath, string(kind))
}

func (s *Store) path(key domain.ConversationKey) string {
	return filepath.Join(s.dir(key.Kind), base64.RawURLEncoding.EncodeToString([]byte(key.String()))+ext)
}

// Save writes the conversation atomically: temp file, fsync, rename.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	key := conv.Key
	dir := s.dir(conv.Key.Kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: fmt.Errorf("failed to ensure directory: %w", err)}
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Same directory as the destination so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(dir, "tmp-*"+ext)
	if err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: err}
	}
	// Cannot rename an open file on Windows.
	if err := tmp.Close(); err != nil {
		return &domain.PersistenceError{Op: "save", Key: key, Err: err}
	}

	dest := s.path(conv.Key)
	if err := os.Rename(tmpPath, dest); err != nil {
		// Windows refuses to replace an existing destination.
		if _, statErr := os.Stat(dest); statErr == nil {
			if err := os.Remove(dest); err != nil {
				return &domain.PersistenceError{Op: "save", Key: key, Err: err}
			}
			err = os.Rename(tmpPath, dest)
		}
		if err != nil {
			return &domain.PersistenceError{Op: "save", Key: key, Err: err}
		}
	}
	return nil
}

// Load reads the conversation file.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, &domain.PersistenceError{Op: "load", Key: key, Err: err}
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, &domain.PersistenceError{Op: "load", Key: key, Err: fmt.Errorf("corrupt conversation file: %w", err)}
	}
	if conv.Variables == nil {
		conv.Variables = make(map[string]string)
	}
	return &conv, nil
}

// Delete removes the conversation file. Deleting a missing conversation is not an error.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &domain.PersistenceError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// List returns the stored conversations of a kind, sorted by key.
func (s *Store) List(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error) {
	entries, err := os.ReadDir(s.dir(kind))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.ConversationKey{}, nil
		}
		return nil, &domain.PersistenceError{Op: "list", Key: domain.ConversationKey{Kind: kind}, Err: err}
	}

	keys := make([]domain.ConversationKey, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, "tmp-") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		if key, ok := domain.ParseConversationKey(string(raw)); ok && key.Kind == kind {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}
