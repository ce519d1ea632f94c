// Package storage persists normalized posts in PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amberdash/ingestd/internal/ingest"
)

// PostStore implements ingest.ItemStore on PostgreSQL.
type PostStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostStore creates a PostStore. queryTimeout sets the per-query context
// deadline; zero means no timeout.
func NewPostStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostStore {
	return &PostStore{pool: pool, queryTimeout: queryTimeout}
}

func (s *PostStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

// ExistsByExternalID reports whether a post with this (platform,
// external_id) pair has already been persisted.
func (s *PostStore) ExistsByExternalID(ctx context.Context, platform, externalID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM posts WHERE platform = $1 AND external_id = $2)`,
		platform, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists check %s/%s: %w", platform, externalID, err)
	}
	return exists, nil
}

// InsertItems persists a batch in one transaction. Rows colliding on
// (platform, external_id) are silently dropped by the unique constraint,
// so replaying a batch after a crash is safe.
func (s *PostStore) InsertItems(ctx context.Context, items []ingest.Item) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		media := item.MediaURLs
		if media == nil {
			media = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO posts (platform, external_id, author, content, created_at, media_urls, avatar_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (platform, external_id) DO NOTHING
		`, item.Platform, item.ExternalID, item.Author, item.Content, item.CreatedAt, media, item.AvatarURL)
		if err != nil {
			return fmt.Errorf("insert post %s/%s: %w", item.Platform, item.ExternalID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert tx: %w", err)
	}
	return nil
}

// CountByPlatform returns persisted post counts per platform, for the
// status surface.
func (s *PostStore) CountByPlatform(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT platform, count(*) FROM posts GROUP BY platform`)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var platform string
		var n int64
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("scan post count: %w", err)
		}
		counts[platform] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	return counts, nil
}
