package ingest

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs periodic ingestion sweeps over a fixed set of streams.
type Sweeper struct {
	orchestrator *Orchestrator
	streams      []Stream
	interval     time.Duration
	opts         Options
	logger       *slog.Logger
}

// NewSweeper creates a new background Sweeper.
func NewSweeper(
	orchestrator *Orchestrator,
	streams []Stream,
	interval time.Duration,
	opts Options,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		orchestrator: orchestrator,
		streams:      streams,
		interval:     interval,
		opts:         opts,
		logger:       logger,
	}
}

// Start runs an immediate sweep, then one per interval. Returns when ctx is
// cancelled. One sweep at a time; a slow sweep delays the next tick rather
// than overlapping it.
func (s *Sweeper) Start(ctx context.Context) {
	if len(s.streams) == 0 {
		s.logger.Info("no streams configured, sweeper idle")
		return
	}

	s.logger.Info("sweeper started", "streams", len(s.streams), "interval", s.interval)
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sweep := s.orchestrator.Sweep(ctx, s.streams, s.opts)

	var processed, failed, skippedItems int
	for _, res := range sweep.Results {
		processed += res.Processed
		failed += res.Failed
		skippedItems += res.Skipped
	}
	s.logger.Info("sweep complete",
		"streams", len(sweep.Results),
		"streams_skipped", len(sweep.Skipped),
		"processed", processed,
		"failed", failed,
		"skipped", skippedItems,
	)
}
