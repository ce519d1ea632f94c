package ingest

import (
	"context"
	"fmt"
)

// Page is one batch of raw external items plus the cursor to resume from.
// An empty NextCursor means the source reported no further pages.
type Page struct {
	Items      []Item
	NextCursor string
}

// Fetcher is the collaborator boundary implemented per platform. cursor is
// the opaque resume token from the checkpoint store ("" on first run).
//
// Implementations surface rate limiting through retryhttp.RateLimitError and
// authentication failures through AuthError so the orchestrator can classify.
type Fetcher interface {
	Fetch(ctx context.Context, cursor string, limit int) (*Page, error)
}

// AuthError is a credential failure against an external platform. It is
// permanent: retrying without operator intervention cannot succeed.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ItemStore is the persistence collaborator. InsertItems must be atomic for
// the batch or individually idempotent on the (platform, external_id) key.
type ItemStore interface {
	ExistsByExternalID(ctx context.Context, platform, externalID string) (bool, error)
	InsertItems(ctx context.Context, items []Item) error
}
