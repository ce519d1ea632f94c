package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// Checkpoint is the resume position for one ingestion stream.
type Checkpoint struct {
	StreamKey string    `json:"stream_key"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists resume cursors per stream key. Implementations must make
// Save atomic with respect to concurrent Loads: a reader sees either the old
// or the new cursor, never a torn write.
type Store interface {
	// Load returns the checkpoint for streamKey. The second return value is
	// false when the stream has never been checkpointed; that is not an error.
	Load(ctx context.Context, streamKey string) (Checkpoint, bool, error)

	// Save overwrites the cursor for streamKey and refreshes its timestamp.
	Save(ctx context.Context, streamKey, cursor string) error

	// Reset removes the checkpoint for streamKey. Resetting a stream that has
	// no checkpoint is not an error.
	Reset(ctx context.Context, streamKey string) error

	// List returns all known checkpoints.
	List(ctx context.Context) ([]Checkpoint, error)
}

// StorageError wraps an I/O failure from a checkpoint backend. The ingestion
// orchestrator treats it as fatal for the current pass: no checkpoint advance
// is assumed and the stream is re-attempted from the same cursor next sweep.
type StorageError struct {
	Op        string
	StreamKey string
	Err       error
}

func (e *StorageError) Error() string {
	if e.StreamKey == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s %q: %v", e.Op, e.StreamKey, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
