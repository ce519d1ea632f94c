package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/amberdash/ingestd/internal/checkpoint"
	"github.com/amberdash/ingestd/internal/circuitbreaker"
	"github.com/amberdash/ingestd/internal/retryhttp"
)

type memCheckpoints struct {
	cursors map[string]string
	loadErr error
	saveErr error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{cursors: make(map[string]string)}
}

func (m *memCheckpoints) Load(_ context.Context, streamKey string) (checkpoint.Checkpoint, bool, error) {
	if m.loadErr != nil {
		return checkpoint.Checkpoint{}, false, m.loadErr
	}
	cursor, ok := m.cursors[streamKey]
	if !ok {
		return checkpoint.Checkpoint{}, false, nil
	}
	return checkpoint.Checkpoint{StreamKey: streamKey, Cursor: cursor, UpdatedAt: time.Now()}, true, nil
}

func (m *memCheckpoints) Save(_ context.Context, streamKey, cursor string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cursors[streamKey] = cursor
	return nil
}

func (m *memCheckpoints) Reset(_ context.Context, streamKey string) error {
	delete(m.cursors, streamKey)
	return nil
}

func (m *memCheckpoints) List(_ context.Context) ([]checkpoint.Checkpoint, error) {
	var out []checkpoint.Checkpoint
	for key, cursor := range m.cursors {
		out = append(out, checkpoint.Checkpoint{StreamKey: key, Cursor: cursor})
	}
	return out, nil
}

type memItems struct {
	existing  map[string]bool
	inserted  []Item
	insertErr error
	existsErr error
}

func newMemItems() *memItems {
	return &memItems{existing: make(map[string]bool)}
}

func (m *memItems) ExistsByExternalID(_ context.Context, platform, externalID string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.existing[platform+":"+externalID], nil
}

func (m *memItems) InsertItems(_ context.Context, items []Item) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, item := range items {
		m.existing[item.DedupKey()] = true
	}
	m.inserted = append(m.inserted, items...)
	return nil
}

type fetcherFunc func(ctx context.Context, cursor string, limit int) (*Page, error)

func (f fetcherFunc) Fetch(ctx context.Context, cursor string, limit int) (*Page, error) {
	return f(ctx, cursor, limit)
}

func validItem(id string) Item {
	return Item{
		ExternalID: id,
		Platform:   "x",
		Author:     "leader-42",
		Content:    "post " + id,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testOrchestrator(cps checkpoint.Store, items ItemStore) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(cps, items, circuitbreaker.NewRegistry(5, time.Minute), logger)
}

func staticStream(pages map[string]*Page, gotCursors *[]string) Stream {
	return Stream{
		Key:        "x:leader-42",
		Dependency: "x_api",
		Fetcher: fetcherFunc(func(_ context.Context, cursor string, _ int) (*Page, error) {
			if gotCursors != nil {
				*gotCursors = append(*gotCursors, cursor)
			}
			page, ok := pages[cursor]
			if !ok {
				return &Page{}, nil
			}
			return page, nil
		}),
	}
}

func TestIngest_PersistsAndAdvancesCheckpoint(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	o := testOrchestrator(cps, items)

	var cursors []string
	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1"), validItem("2")}, NextCursor: "page-2"},
	}, &cursors)

	res, err := o.Ingest(context.Background(), stream, Options{Limit: 10})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Processed != 2 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 2 processed", res)
	}
	if len(items.inserted) != 2 {
		t.Errorf("inserted %d items, want 2", len(items.inserted))
	}
	if cps.cursors["x:leader-42"] != "page-2" {
		t.Errorf("checkpoint = %q, want page-2", cps.cursors["x:leader-42"])
	}
	if cursors[0] != "" {
		t.Errorf("first fetch cursor = %q, want empty", cursors[0])
	}
}

func TestIngest_ResumesFromStoredCursor(t *testing.T) {
	cps := newMemCheckpoints()
	cps.cursors["x:leader-42"] = "page-2"
	items := newMemItems()
	o := testOrchestrator(cps, items)

	var cursors []string
	stream := staticStream(map[string]*Page{
		"page-2": {Items: []Item{validItem("3")}},
	}, &cursors)

	if _, err := o.Ingest(context.Background(), stream, Options{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if cursors[0] != "page-2" {
		t.Errorf("fetch cursor = %q, want page-2", cursors[0])
	}
}

func TestIngest_LastPageDoesNotAdvanceCheckpoint(t *testing.T) {
	cps := newMemCheckpoints()
	cps.cursors["x:leader-42"] = "page-9"
	items := newMemItems()
	o := testOrchestrator(cps, items)

	stream := staticStream(map[string]*Page{
		"page-9": {Items: []Item{validItem("99")}, NextCursor: ""},
	}, nil)

	if _, err := o.Ingest(context.Background(), stream, Options{}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got := cps.cursors["x:leader-42"]; got != "page-9" {
		t.Errorf("checkpoint = %q, want unchanged page-9", got)
	}
}

func TestIngest_InvalidItemsCountedNotFatal(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	o := testOrchestrator(cps, items)

	missingAuthor := validItem("2")
	missingAuthor.Author = ""
	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1"), missingAuthor, validItem("3")}},
	}, nil)

	res, err := o.Ingest(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Processed != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 processed / 1 failed", res)
	}
}

func TestIngest_DuplicatesSkipped(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	items.existing["x:1"] = true
	o := testOrchestrator(cps, items)

	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1"), validItem("2"), validItem("2")}},
	}, nil)

	res, err := o.Ingest(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Processed != 1 || res.Skipped != 2 {
		t.Errorf("result = %+v, want 1 processed / 2 skipped", res)
	}
	if len(items.inserted) != 1 || items.inserted[0].ExternalID != "2" {
		t.Errorf("inserted = %+v, want only item 2", items.inserted)
	}
}

func TestIngest_RerunAfterCrashIsIdempotent(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	o := testOrchestrator(cps, items)

	page := &Page{Items: []Item{validItem("1"), validItem("2")}, NextCursor: "page-2"}
	stream := staticStream(map[string]*Page{"": page, "page-2": page}, nil)

	if _, err := o.Ingest(context.Background(), stream, Options{}); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// Simulate a crash before the checkpoint advanced: rewind and re-run
	// the same page.
	delete(cps.cursors, "x:leader-42")

	res, err := o.Ingest(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Processed != 0 || res.Skipped != 2 {
		t.Errorf("re-run result = %+v, want all skipped", res)
	}
	if len(items.inserted) != 2 {
		t.Errorf("total inserted = %d, want 2", len(items.inserted))
	}
}

func TestIngest_DryRunPersistsNothing(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	o := testOrchestrator(cps, items)

	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1")}, NextCursor: "page-2"},
	}, nil)

	res, err := o.Ingest(context.Background(), stream, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("processed = %d, want 1", res.Processed)
	}
	if len(items.inserted) != 0 {
		t.Errorf("dry run inserted %d items", len(items.inserted))
	}
	if _, ok := cps.cursors["x:leader-42"]; ok {
		t.Error("dry run advanced the checkpoint")
	}
}

func TestIngest_InsertFailureDoesNotAdvanceCheckpoint(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	items.insertErr = errors.New("db down")
	o := testOrchestrator(cps, items)

	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1")}, NextCursor: "page-2"},
	}, nil)

	_, err := o.Ingest(context.Background(), stream, Options{})
	if err == nil {
		t.Fatal("expected insert error")
	}
	if _, ok := cps.cursors["x:leader-42"]; ok {
		t.Error("checkpoint advanced despite failed insert")
	}
}

func TestIngest_CheckpointLoadErrorIsFatal(t *testing.T) {
	cps := newMemCheckpoints()
	cps.loadErr = &checkpoint.StorageError{Op: "load", StreamKey: "x:leader-42", Err: errors.New("disk gone")}
	o := testOrchestrator(cps, newMemItems())

	stream := staticStream(nil, nil)
	_, err := o.Ingest(context.Background(), stream, Options{})
	var storageErr *checkpoint.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("err = %v, want StorageError", err)
	}
}

func TestIngest_RateLimitSurfaced(t *testing.T) {
	cps := newMemCheckpoints()
	o := testOrchestrator(cps, newMemItems())

	stream := Stream{
		Key:        "x:leader-42",
		Dependency: "x_api",
		Fetcher: fetcherFunc(func(context.Context, string, int) (*Page, error) {
			return nil, &retryhttp.RateLimitError{RetryAfter: 30 * time.Second, Err: errors.New("quota spent")}
		}),
	}

	_, err := o.Ingest(context.Background(), stream, Options{})
	if !retryhttp.IsRateLimit(err) {
		t.Fatalf("err = %v, want rate limit", err)
	}
}

func TestIngest_CircuitOpenSkipsFetch(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := circuitbreaker.NewRegistry(1, time.Hour)
	o := NewOrchestrator(cps, items, registry, logger)

	calls := 0
	stream := Stream{
		Key:        "x:leader-42",
		Dependency: "x_api",
		Fetcher: fetcherFunc(func(context.Context, string, int) (*Page, error) {
			calls++
			return nil, errors.New("upstream 500")
		}),
	}

	if _, err := o.Ingest(context.Background(), stream, Options{}); err == nil {
		t.Fatal("expected fetch error")
	}
	_, err := o.Ingest(context.Background(), stream, Options{})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1 (breaker open)", calls)
	}
}

func TestSweep_RateLimitSkipsRemainingStreams(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	o := testOrchestrator(cps, items)

	okFetcher := fetcherFunc(func(context.Context, string, int) (*Page, error) {
		return &Page{Items: []Item{validItem("1")}}, nil
	})
	limited := fetcherFunc(func(context.Context, string, int) (*Page, error) {
		return nil, &retryhttp.RateLimitError{Err: errors.New("quota spent")}
	})
	neverCalled := fetcherFunc(func(context.Context, string, int) (*Page, error) {
		t.Error("stream after rate limit was fetched")
		return &Page{}, nil
	})

	streams := []Stream{
		{Key: "x:a", Dependency: "x_api", Fetcher: okFetcher},
		{Key: "x:b", Dependency: "x_api", Fetcher: limited},
		{Key: "x:c", Dependency: "x_api", Fetcher: neverCalled},
		{Key: "x:d", Dependency: "x_api", Fetcher: neverCalled},
	}

	sweep := o.Sweep(context.Background(), streams, Options{})
	if len(sweep.Results) != 2 {
		t.Errorf("attempted %d streams, want 2", len(sweep.Results))
	}
	if len(sweep.Skipped) != 2 || sweep.Skipped[0] != "x:c" || sweep.Skipped[1] != "x:d" {
		t.Errorf("skipped = %v, want [x:c x:d]", sweep.Skipped)
	}
}

func TestSweep_CircuitOpenStreamDoesNotStopOthers(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := circuitbreaker.NewRegistry(1, time.Hour)
	o := NewOrchestrator(cps, items, registry, logger)

	// Trip the facebook breaker up front.
	_ = registry.Get("facebook_api").Execute(func() error { return errors.New("boom") })

	fetched := map[string]bool{}
	mark := func(key string) fetcherFunc {
		return func(context.Context, string, int) (*Page, error) {
			fetched[key] = true
			return &Page{Items: []Item{validItem(key)}}, nil
		}
	}

	streams := []Stream{
		{Key: "facebook:p1", Dependency: "facebook_api", Fetcher: mark("facebook:p1")},
		{Key: "x:a", Dependency: "x_api", Fetcher: mark("x:a")},
	}

	sweep := o.Sweep(context.Background(), streams, Options{})
	if fetched["facebook:p1"] {
		t.Error("open-circuit stream was fetched")
	}
	if !fetched["x:a"] {
		t.Error("healthy stream was not fetched")
	}
	if len(sweep.Skipped) != 0 {
		t.Errorf("skipped = %v, want none (stream was attempted)", sweep.Skipped)
	}
}

func TestSweep_CancelledContextSkipsRemaining(t *testing.T) {
	cps := newMemCheckpoints()
	o := testOrchestrator(cps, newMemItems())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	streams := []Stream{
		{Key: "x:a", Dependency: "x_api", Fetcher: fetcherFunc(func(context.Context, string, int) (*Page, error) {
			t.Error("fetched after cancellation")
			return &Page{}, nil
		})},
	}

	sweep := o.Sweep(ctx, streams, Options{})
	if len(sweep.Results) != 0 || len(sweep.Skipped) != 1 {
		t.Errorf("sweep = %+v, want everything skipped", sweep)
	}
}

func TestResetCheckpoint(t *testing.T) {
	cps := newMemCheckpoints()
	cps.cursors["x:leader-42"] = "page-5"
	o := testOrchestrator(cps, newMemItems())

	if err := o.ResetCheckpoint(context.Background(), "x:leader-42"); err != nil {
		t.Fatalf("ResetCheckpoint: %v", err)
	}
	if _, ok := cps.cursors["x:leader-42"]; ok {
		t.Error("checkpoint still present after reset")
	}
}

func TestIngest_DedupLookupErrorIsFatal(t *testing.T) {
	cps := newMemCheckpoints()
	items := newMemItems()
	items.existsErr = fmt.Errorf("connection refused")
	o := testOrchestrator(cps, items)

	stream := staticStream(map[string]*Page{
		"": {Items: []Item{validItem("1")}, NextCursor: "page-2"},
	}, nil)

	if _, err := o.Ingest(context.Background(), stream, Options{}); err == nil {
		t.Fatal("expected dedup lookup error")
	}
	if _, ok := cps.cursors["x:leader-42"]; ok {
		t.Error("checkpoint advanced despite lookup failure")
	}
}
