// Package sqlstore persists conversations, clients and users in Postgres or SQLite.
//
// Room conversations live in the room table and Route conversations in the
// route table, one row each. Rows are written with upserts so a Save is a
// single atomic statement per conversation.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aretw0/menuflow/internal/logging"
	"github.com/aretw0/menuflow/pkg/domain"
)

// Connection pool defaults for Postgres.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Store implements ports.StateStore, ports.ClientStore and ports.UserStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

type Option func(*Store)

// WithLogger sets the logger used for migrations and row-level warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to the backend named by driver ("postgres" or "sqlite") and migrates the schema.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	var dialect Dialect
	switch driver {
	case Postgres.Name:
		dialect = Postgres
	case SQLite.Name, SQLite.Driver:
		dialect = SQLite
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name, err)
	}
	if dialect == SQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	store, err := New(ctx, db, dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database and migrates the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s ping failed: %w", dialect.Name, err)
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Save upserts the row of the conversation.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	vars, err := json.Marshal(conv.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}
	updated := conv.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	switch conv.Key.Kind {
	case domain.KindRoom:
		_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO room (room_id, variables, node_id, state, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (room_id) DO UPDATE SET
				variables = excluded.variables,
				node_id = excluded.node_id,
				state = excluded.state,
				updated_at = excluded.updated_at`),
			conv.Key.RoomID, string(vars), conv.NodeID, string(conv.State), updated.UTC())
	case domain.KindRoute:
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			roomID, err := s.ensureRoom(ctx, tx, conv.Key.RoomID)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, s.dialect.Rebind(`
				INSERT INTO route (room, client, node_id, state, variables, updated_at) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (room, client) DO UPDATE SET
					node_id = excluded.node_id,
					state = excluded.state,
					variables = excluded.variables,
					updated_at = excluded.updated_at`),
				roomID, conv.Key.ClientID, conv.NodeID, string(conv.State), string(vars), updated.UTC())
			return err
		})
	default:
		return fmt.Errorf("unknown conversation kind %q", conv.Key.Kind)
	}
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", conv.Key, err)
	}
	return nil
}

// ensureRoom returns the primary key of a room row, creating a placeholder if needed.
// Placeholder rows have a NULL state and are not Room conversations.
func (s *Store) ensureRoom(ctx context.Context, tx *sql.Tx, roomID string) (int64, error) {
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO room (room_id) VALUES (?) ON CONFLICT (room_id) DO NOTHING`), roomID); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT id FROM room WHERE room_id = ?`), roomID).Scan(&id)
	return id, err
}

// Load reads the row of the conversation.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.Conversation, error) {
	var row *sql.Row
	switch key.Kind {
	case domain.KindRoom:
		row = s.db.QueryRowContext(ctx, s.dialect.Rebind(`
			SELECT node_id, state, variables, updated_at FROM room
			WHERE room_id = ? AND state IS NOT NULL`), key.RoomID)
	case domain.KindRoute:
		row = s.db.QueryRowContext(ctx, s.dialect.Rebind(`
			SELECT route.node_id, route.state, route.variables, route.updated_at
			FROM route JOIN room ON room.id = route.room
			WHERE room.room_id = ? AND route.client = ?`), key.RoomID, key.ClientID)
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", key.Kind)
	}

	var (
		nodeID, state sql.NullString
		vars          []byte
		updated       sql.NullTime
	)
	if err := row.Scan(&nodeID, &state, &vars, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}

	conv := domain.NewConversation(key)
	conv.NodeID = nodeID.String
	if state.Valid && state.String != "" {
		conv.State = domain.LifecycleState(state.String)
	}
	if updated.Valid {
		conv.UpdatedAt = updated.Time
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &conv.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode variables of %s: %w", key, err)
		}
		if conv.Variables == nil {
			conv.Variables = make(map[string]string)
		}
	}
	return conv, nil
}

// Delete removes the conversation row.
func (s *Store) Delete(ctx context.Context, key domain.ConversationKey) error {
	var err error
	switch key.Kind {
	case domain.KindRoom:
		_, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE room SET state = NULL, node_id = NULL, variables = NULL WHERE room_id = ?`), key.RoomID)
	case domain.KindRoute:
		_, err = s.db.ExecContext(ctx, s.dialect.Rebind(`
			DELETE FROM route WHERE client = ? AND room IN (SELECT id FROM room WHERE room_id = ?)`),
			key.ClientID, key.RoomID)
	default:
		return fmt.Errorf("unknown conversation kind %q", key.Kind)
	}
	return err
}

// List returns the keys of the stored conversations of a kind.
func (s *Store) List(ctx context.Context, kind domain.ConversationKind) ([]domain.ConversationKey, error) {
	var query string
	switch kind {
	case domain.KindRoom:
		query = `SELECT room_id, '' FROM room WHERE state IS NOT NULL ORDER BY room_id`
	case domain.KindRoute:
		query = `SELECT room.room_id, route.client FROM route JOIN room ON room.id = route.room
			ORDER BY route.client, room.room_id`
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", kind)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var keys []domain.ConversationKey
	for rows.Next() {
		var roomID, clientID string
		if err := rows.Scan(&roomID, &clientID); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if kind == domain.KindRoute {
			keys = append(keys, domain.RouteKey(clientID, roomID))
		} else {
			keys = append(keys, domain.RoomKey(roomID))
		}
	}
	return keys, rows.Err()
}
