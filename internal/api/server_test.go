package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/amberdash/ingestd/internal/checkpoint"
	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/embed"
	"github.com/amberdash/ingestd/internal/ingest"
	"github.com/amberdash/ingestd/internal/ratelimit"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeItems struct {
	mu       sync.Mutex
	existing map[string]bool
	inserted int
}

func newFakeItems() *fakeItems {
	return &fakeItems{existing: make(map[string]bool)}
}

func (f *fakeItems) ExistsByExternalID(_ context.Context, platform, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[platform+":"+externalID], nil
}

func (f *fakeItems) InsertItems(_ context.Context, items []ingest.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.existing[item.DedupKey()] = true
	}
	f.inserted += len(items)
	return nil
}

type fetcherFunc func(ctx context.Context, cursor string, limit int) (*ingest.Page, error)

func (f fetcherFunc) Fetch(ctx context.Context, cursor string, limit int) (*ingest.Page, error) {
	return f(ctx, cursor, limit)
}

func staticFetcher(items []ingest.Item, next string) ingest.Fetcher {
	return fetcherFunc(func(context.Context, string, int) (*ingest.Page, error) {
		return &ingest.Page{Items: items, NextCursor: next}, nil
	})
}

func testItem(id string) ingest.Item {
	return ingest.Item{
		ExternalID: id,
		Platform:   "x",
		Author:     "leader-42",
		Content:    "post " + id,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

type serverFixture struct {
	handler  http.Handler
	items    *fakeItems
	store    *checkpoint.FileStore
	breakers *circuitbreaker.Registry
}

func newFixture(t *testing.T, streams []ingest.Stream, apiKeys []string) *serverFixture {
	return newFixtureWithLimiter(t, streams, apiKeys, ratelimit.New(100, time.Minute))
}

func newFixtureWithLimiter(t *testing.T, streams []ingest.Stream, apiKeys []string, limiter *ratelimit.Limiter) *serverFixture {
	t.Helper()

	store, err := checkpoint.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	items := newFakeItems()
	breakers := circuitbreaker.NewRegistry(5, time.Minute)
	logger := testLogger()
	orchestrator := ingest.NewOrchestrator(store, items, breakers, logger)

	issuer, err := embed.NewIssuer(testSigningKey, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	handler := NewServer(Deps{
		Logger:       logger,
		Orchestrator: orchestrator,
		Streams:      streams,
		Breakers:     breakers,
		Issuer:       issuer,
		Limiter:      limiter,
		APIKeys:      apiKeys,
		IngestOpts:   ingest.Options{Limit: 10},
	})

	return &serverFixture{handler: handler, items: items, store: store, breakers: breakers}
}
