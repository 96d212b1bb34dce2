package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS art_objects (
    key           TEXT PRIMARY KEY,
    data          BYTEA NOT NULL,
    content_type  TEXT NOT NULL,
    cache_control TEXT NOT NULL,
    etag          TEXT NOT NULL,
    size          BIGINT NOT NULL,
    uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS art_objects_uploaded_at_idx ON art_objects (uploaded_at DESC);

CREATE TABLE IF NOT EXISTS generation_logs (
    id          BIGSERIAL PRIMARY KEY,
    request_id  TEXT NOT NULL,
    client      TEXT NOT NULL,
    prompt      TEXT NOT NULL,
    provider    TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    status_code INT NOT NULL,
    history_key TEXT,
    duration_ms INT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the tables the gateway needs if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	db.Pool.Close()
}
