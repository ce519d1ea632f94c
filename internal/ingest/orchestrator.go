package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amberdash/ingestd/internal/checkpoint"
	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/metrics"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

// Stream is one tracked ingestion source, e.g. one leader's X timeline.
type Stream struct {
	// Key identifies the stream in the checkpoint store, e.g. "x:leader-42".
	Key string
	// Dependency names the external API guarded by a shared circuit breaker,
	// e.g. "x_api". Streams on the same platform share one breaker.
	Dependency string
	Fetcher    Fetcher
}

// Options control one ingestion pass.
type Options struct {
	// DryRun fetches, validates, and dedup-checks without persisting items
	// or advancing the checkpoint.
	DryRun bool
	// Limit is the page size requested from the fetcher.
	Limit int
}

// Result counts the outcome of one ingestion pass for one stream.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Orchestrator coordinates ingestion passes: read checkpoint, fetch through
// the breaker-guarded client, validate, deduplicate, persist, advance the
// checkpoint. All dependencies are injected; instances hold no other state,
// so separate orchestrators may run in parallel.
type Orchestrator struct {
	checkpoints checkpoint.Store
	items       ItemStore
	breakers    *circuitbreaker.Registry
	logger      *slog.Logger
}

func NewOrchestrator(
	checkpoints checkpoint.Store,
	items ItemStore,
	breakers *circuitbreaker.Registry,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		checkpoints: checkpoints,
		items:       items,
		breakers:    breakers,
		logger:      logger,
	}
}

// Ingest runs one pass for one stream. Per-item validation failures and
// duplicates are counted, never fatal. Errors are returned only for
// conditions that abort the whole pass: circuit open, rate limiting,
// permanent fetch failures, and storage I/O. The checkpoint advances only
// after the whole batch persisted, so a crash mid-pass re-fetches the same
// page and dedup keeps persistence idempotent.
func (o *Orchestrator) Ingest(ctx context.Context, stream Stream, opts Options) (Result, error) {
	var res Result

	cp, found, err := o.checkpoints.Load(ctx, stream.Key)
	if err != nil {
		metrics.IngestionFailed.Inc()
		o.logger.Error("checkpoint load failed", "stream", stream.Key, "error", err)
		return res, err
	}
	cursor := ""
	if found {
		cursor = cp.Cursor
	}

	var page *Page
	err = o.breakers.Get(stream.Dependency).Execute(func() error {
		var fetchErr error
		page, fetchErr = stream.Fetcher.Fetch(ctx, cursor, opts.Limit)
		return fetchErr
	})
	if err != nil {
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			metrics.IngestionSkipped.Inc()
			o.logger.Warn("circuit open, stream skipped", "stream", stream.Key, "dependency", stream.Dependency)
		case retryhttp.IsRateLimit(err):
			metrics.IngestionRateLimited.Inc()
			o.logger.Warn("rate limited", "stream", stream.Key, "error", err)
		default:
			metrics.IngestionFailed.Inc()
			o.logger.Error("fetch failed", "stream", stream.Key, "error", err)
		}
		return res, err
	}

	seen := make(map[string]struct{}, len(page.Items))
	fresh := make([]Item, 0, len(page.Items))
	for _, item := range page.Items {
		if err := item.Validate(); err != nil {
			res.Failed++
			metrics.IngestionFailed.Inc()
			o.logger.Warn("invalid item", "stream", stream.Key, "error", err)
			continue
		}
		if _, dup := seen[item.DedupKey()]; dup {
			res.Skipped++
			metrics.IngestionSkipped.Inc()
			continue
		}
		seen[item.DedupKey()] = struct{}{}

		exists, err := o.items.ExistsByExternalID(ctx, item.Platform, item.ExternalID)
		if err != nil {
			metrics.IngestionFailed.Inc()
			o.logger.Error("dedup lookup failed", "stream", stream.Key, "error", err)
			return res, fmt.Errorf("dedup lookup %s: %w", item.DedupKey(), err)
		}
		if exists {
			res.Skipped++
			metrics.IngestionSkipped.Inc()
			continue
		}
		fresh = append(fresh, item)
	}

	if !opts.DryRun {
		if len(fresh) > 0 {
			if err := o.items.InsertItems(ctx, fresh); err != nil {
				metrics.IngestionFailed.Inc()
				o.logger.Error("persist failed, checkpoint not advanced", "stream", stream.Key, "error", err)
				return res, fmt.Errorf("persist %s: %w", stream.Key, err)
			}
		}
		// Advance only after the whole batch persisted. A crash between
		// persist and advance re-fetches the page; dedup absorbs it.
		if page.NextCursor != "" {
			if err := o.checkpoints.Save(ctx, stream.Key, page.NextCursor); err != nil {
				metrics.IngestionFailed.Inc()
				o.logger.Error("checkpoint save failed", "stream", stream.Key, "error", err)
				return res, err
			}
		}
	}

	res.Processed = len(fresh)
	metrics.IngestionProcessed.Add(float64(len(fresh)))

	o.logger.Info("ingestion pass complete",
		"stream", stream.Key,
		"processed", res.Processed,
		"failed", res.Failed,
		"skipped", res.Skipped,
		"dry_run", opts.DryRun,
	)
	return res, nil
}

// SweepResult aggregates one pass over all configured streams.
type SweepResult struct {
	// Results holds the outcome per attempted stream key.
	Results map[string]Result
	// Skipped lists stream keys not attempted this pass (rate-limit
	// short-circuit or cancellation); they are retried next sweep.
	Skipped []string
}

// Sweep runs one ingestion pass per stream, in order. When a stream reports
// upstream rate limiting, the remaining streams are skipped for this pass
// rather than hammering the same exhausted quota. Cancellation is honored
// between streams; an in-flight pass runs to completion.
func (o *Orchestrator) Sweep(ctx context.Context, streams []Stream, opts Options) SweepResult {
	sweep := SweepResult{Results: make(map[string]Result, len(streams))}

	for i, stream := range streams {
		if ctx.Err() != nil {
			sweep.Skipped = append(sweep.Skipped, streamKeys(streams[i:])...)
			metrics.IngestionSkipped.Add(float64(len(streams) - i))
			o.logger.Info("sweep cancelled", "remaining", len(streams)-i)
			break
		}

		res, err := o.Ingest(ctx, stream, opts)
		sweep.Results[stream.Key] = res

		if err != nil && retryhttp.IsRateLimit(err) {
			rest := streamKeys(streams[i+1:])
			sweep.Skipped = append(sweep.Skipped, rest...)
			metrics.IngestionSkipped.Add(float64(len(rest)))
			o.logger.Warn("sweep aborted by rate limit", "stream", stream.Key, "remaining", len(rest))
			break
		}
	}
	return sweep
}

// ResetCheckpoint removes the resume cursor for a stream so the next pass
// starts from the beginning. Manual operation only.
func (o *Orchestrator) ResetCheckpoint(ctx context.Context, streamKey string) error {
	if err := o.checkpoints.Reset(ctx, streamKey); err != nil {
		return err
	}
	o.logger.Info("checkpoint reset", "stream", streamKey)
	return nil
}

// Checkpoints lists all stored checkpoints, for the status surface.
func (o *Orchestrator) Checkpoints(ctx context.Context) ([]checkpoint.Checkpoint, error) {
	return o.checkpoints.List(ctx)
}

func streamKeys(streams []Stream) []string {
	keys := make([]string, len(streams))
	for i, s := range streams {
		keys[i] = s.Key
	}
	return keys
}
