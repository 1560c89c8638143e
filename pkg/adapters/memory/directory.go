package memory

import (
	"context"
	"sync"

	"github.com/aretw0/menuflow/pkg/domain"
)

// Directory implements ports.ClientStore and ports.UserStore in memory.
type Directory struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
	users   map[string]domain.User
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		clients: make(map[string]domain.Client),
		users:   make(map[string]domain.User),
	}
}

// PutClient registers or replaces a client.
func (d *Directory) PutClient(c domain.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c.ID] = c
}

// PutUser registers a user; the id is assigned when zero.
func (d *Directory) PutUser(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == 0 {
		u.ID = int64(len(d.users) + 1)
	}
	d.users[u.MXID] = u
}

func (d *Directory) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[id]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	return &c, nil
}

func (d *Directory) GetUser(ctx context.Context, mxid string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[mxid]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}
