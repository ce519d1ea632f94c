package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the posts and checkpoint tables if they do not
// exist. Idempotent; run on every startup.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS posts (
			id          BIGSERIAL PRIMARY KEY,
			platform    TEXT NOT NULL,
			external_id TEXT NOT NULL,
			author      TEXT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			media_urls  TEXT[] NOT NULL DEFAULT '{}',
			avatar_url  TEXT NOT NULL DEFAULT '',
			ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),

			CONSTRAINT uq_posts_platform_external UNIQUE (platform, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_posts_platform_created
			ON posts (platform, created_at DESC);

		CREATE TABLE IF NOT EXISTS ingest_checkpoints (
			stream_key TEXT PRIMARY KEY,
			cursor     TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
