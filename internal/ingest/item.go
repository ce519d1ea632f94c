package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Item is a normalized external post. (Platform, ExternalID) is the
// deduplication key: once persisted, an item is never re-inserted for the
// same pair.
type Item struct {
	ExternalID string    `json:"external_id" validate:"required"`
	Platform   string    `json:"platform" validate:"required"`
	Author     string    `json:"author" validate:"required"`
	Content    string    `json:"content" validate:"required"`
	CreatedAt  time.Time `json:"created_at" validate:"required"`
	MediaURLs  []string  `json:"media_urls,omitempty" validate:"omitempty,dive,url"`
	AvatarURL  string    `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

var validate = validator.New()

// Validate checks the required-field schema. Invalid items are counted as
// failed by the orchestrator and skipped, never fatal to a batch.
func (i Item) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("invalid item %s/%s: %w", i.Platform, i.ExternalID, err)
	}
	return nil
}

// DedupKey returns the deduplication key for in-batch duplicate detection.
func (i Item) DedupKey() string {
	return i.Platform + ":" + i.ExternalID
}
