package persistence

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite driver
)

func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()

		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contacts (
			contact_id TEXT PRIMARY KEY,
			prefix BLOB NOT NULL,
			pubkey BLOB NOT NULL,
			name TEXT NOT NULL,
			contact_type INTEGER NOT NULL,
			flags INTEGER NOT NULL,
			last_advert_at INTEGER NOT NULL,
			last_modified_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_contacts_last_advert ON contacts(last_advert_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate contacts table: %w", err)
	}

	return nil
}
