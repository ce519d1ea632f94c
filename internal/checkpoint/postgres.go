package checkpoint

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using the ingest_checkpoints table. The
// upsert makes Save atomic; row-level locking in Postgres serializes writers
// per stream key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Load(ctx context.Context, streamKey string) (Checkpoint, bool, error) {
	var cp Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT stream_key, cursor, updated_at FROM ingest_checkpoints WHERE stream_key = $1`,
		streamKey,
	).Scan(&cp.StreamKey, &cp.Cursor, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, &StorageError{Op: "load", StreamKey: streamKey, Err: err}
	}
	return cp, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, streamKey, cursor string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_checkpoints (stream_key, cursor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_key)
		DO UPDATE SET cursor = $2, updated_at = now()
	`, streamKey, cursor)
	if err != nil {
		return &StorageError{Op: "save", StreamKey: streamKey, Err: err}
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context, streamKey string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM ingest_checkpoints WHERE stream_key = $1`, streamKey)
	if err != nil {
		return &StorageError{Op: "reset", StreamKey: streamKey, Err: err}
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stream_key, cursor, updated_at FROM ingest_checkpoints ORDER BY stream_key`)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var cps []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.StreamKey, &cp.Cursor, &cp.UpdatedAt); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return cps, nil
}
