package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	description string
	statements  []string
}

// migrations are applied in order; the index + 1 is the schema version.
var migrations = []migration{
	{
		description: "Initial revision",
		statements: []string{
			`CREATE TABLE room (
				id          {serial},
				room_id     TEXT NOT NULL,
				variables   {json},
				node_id     TEXT,
				state       TEXT
			)`,
			`CREATE TABLE "user" (
				id          {serial},
				mxid        TEXT NOT NULL
			)`,
			`CREATE TABLE client (
				id           TEXT    PRIMARY KEY,
				homeserver   TEXT    NOT NULL,
				access_token TEXT    NOT NULL,
				device_id    TEXT    NOT NULL,
				next_batch   TEXT    NOT NULL,
				filter_id    TEXT    NOT NULL,
				autojoin     BOOLEAN NOT NULL
			)`,
			`CREATE UNIQUE INDEX idx_unique_room_id ON room (room_id)`,
		},
	},
	{
		description: "Add route table",
		statements: []string{
			`CREATE TABLE route (
				id          {serial},
				room        INTEGER NOT NULL REFERENCES room (id),
				client      TEXT NOT NULL REFERENCES client (id),
				node_id     TEXT,
				state       TEXT,
				variables   {json}
			)`,
		},
	},
	{
		description: "Unique route per room and client, update timestamps",
		statements: []string{
			`CREATE UNIQUE INDEX idx_unique_route ON route (room, client)`,
			`CREATE UNIQUE INDEX idx_unique_user_mxid ON "user" (mxid)`,
			`ALTER TABLE room ADD COLUMN updated_at {timestamp}`,
			`ALTER TABLE route ADD COLUMN updated_at {timestamp}`,
		},
	},
}

// LatestVersion is the schema version after all migrations.
func LatestVersion() int {
	return len(migrations)
}

// Migrate brings the schema up to date, one transaction per version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		m := migrations[i]
		version := i + 1
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, s.dialect.expand(stmt)); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM version`); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO version (version) VALUES (?)`), version)
			return err
		}); err != nil {
			return fmt.Errorf("migration v%d (%s) failed: %w", version, m.description, err)
		}
		s.logger.Info("Applied schema migration", "version", version, "description", m.description)
	}
	return nil
}

// Version returns the applied schema version (0 for an empty database).
func (s *Store) Version(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}
