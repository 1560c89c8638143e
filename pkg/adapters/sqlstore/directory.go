package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aretw0/menuflow/pkg/domain"
)

// GetClient reads a client row.
func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id, homeserver, access_token, device_id, next_batch, filter_id, autojoin
		FROM client WHERE id = ?`), id).
		Scan(&c.ID, &c.Homeserver, &c.AccessToken, &c.DeviceID, &c.NextBatch, &c.FilterID, &c.Autojoin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", id, err)
	}
	return &c, nil
}

// PutClient inserts or updates a client row.
func (s *Store) PutClient(ctx context.Context, c domain.Client) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO client (id, homeserver, access_token, device_id, next_batch, filter_id, autojoin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			homeserver = excluded.homeserver,
			access_token = excluded.access_token,
			device_id = excluded.device_id,
			next_batch = excluded.next_batch,
			filter_id = excluded.filter_id,
			autojoin = excluded.autojoin`),
		c.ID, c.Homeserver, c.AccessToken, c.DeviceID, c.NextBatch, c.FilterID, c.Autojoin)
	if err != nil {
		return fmt.Errorf("failed to put client %s: %w", c.ID, err)
	}
	return nil
}

// GetUser reads the user row of an mxid.
func (s *Store) GetUser(ctx context.Context, mxid string) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT id, mxid FROM "user" WHERE mxid = ?`), mxid).
		Scan(&u.ID, &u.MXID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", mxid, err)
	}
	return &u, nil
}

// PutUser registers an mxid, returning the existing row when already present.
func (s *Store) PutUser(ctx context.Context, mxid string) (*domain.User, error) {
	if u, err := s.GetUser(ctx, mxid); err == nil {
		return u, nil
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	u := &domain.User{MXID: mxid}
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`INSERT INTO "user" (mxid) VALUES (?) RETURNING id`), mxid).
		Scan(&u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to put user %s: %w", mxid, err)
	}
	return u, nil
}
