package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/logstore"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/summarize"
	"github.com/logsage/logsage/internal/vectordb"
)

type fakeEmbedder struct {
	mu        sync.Mutex
	failBatch bool
	failOn    string // substring of summary that fails per-item calls
	batchHits int
	itemHits  int
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) (*llm.EmbeddingResult, error) {
	f.mu.Lock()
	f.itemHits++
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding rejected")
	}
	return &llm.EmbeddingResult{Vector: []float32{0.1, 0.2}, Model: "test-embed"}, nil
}

func (f *fakeEmbedder) CreateBatchEmbeddings(ctx context.Context, texts []string) ([]llm.EmbeddingResult, error) {
	f.mu.Lock()
	f.batchHits++
	f.mu.Unlock()
	if f.failBatch {
		return nil, errors.New("batch failed")
	}
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("batch contains bad input")
		}
	}
	out := make([]llm.EmbeddingResult, len(texts))
	for i := range out {
		out[i] = llm.EmbeddingResult{Vector: []float32{0.1, 0.2}, Model: "test-embed"}
	}
	return out, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	points  map[string]vectordb.Point
	results []vectordb.SearchResult
	lastReq vectordb.SearchRequest
	failUp  bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{points: make(map[string]vectordb.Point)}
}

func (f *fakeIndex) UpsertPoints(ctx context.Context, collection string, points []vectordb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUp {
		return errors.New("index unavailable")
	}
	for _, p := range points {
		f.points[p.Payload.RequestID] = p
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, req vectordb.SearchRequest) ([]vectordb.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	return f.results, nil
}

func (f *fakeIndex) DeleteByRequestID(ctx context.Context, collection, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.points, requestID)
	return nil
}

func ms(v int64) *int64 { return &v }

func seedPipeline(t *testing.T, embedder llm.Embedder, index VectorIndex) (*Pipeline, *logstore.MemoryStore) {
	t.Helper()
	store := logstore.NewMemoryStore()
	enricher := summarize.NewEnricher(nil, nil, event.LatencyThresholds{}, nil)
	p := NewPipeline(store, index, embedder, enricher, Config{BatchSize: 2, Concurrency: 2}, nil)

	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	events := []event.WideEvent{
		{RequestID: "req-1", Timestamp: base, Service: "payment", Route: "/api/checkout", Method: "POST", StatusCode: 500, DurationMS: ms(1200), ErrorCode: "CARD_DECLINED"},
		{RequestID: "req-2", Timestamp: base.Add(time.Minute), Service: "payment", Route: "/api/checkout", Method: "POST", StatusCode: 200, DurationMS: ms(90)},
		{RequestID: "req-3", Timestamp: base.Add(2 * time.Minute), Service: "auth", Route: "/api/login", Method: "POST", StatusCode: 503, DurationMS: ms(30), ErrorCode: "UPSTREAM_TIMEOUT"},
	}
	if _, _, err := p.IngestEvents(context.Background(), events); err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}
	return p, store
}

func TestProcessPendingLogsHappyPath(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, store := seedPipeline(t, embedder, index)

	n, failed, err := p.ProcessPendingLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}
	if n != 3 || failed != 0 {
		t.Fatalf("embedded = %d failed = %d, want 3/0", n, failed)
	}

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		if st, _ := store.EmbeddingStatus(id); st != event.EmbeddingEmbedded {
			t.Errorf("%s status = %s", id, st)
		}
		if _, ok := index.points[id]; !ok {
			t.Errorf("%s missing from index", id)
		}
	}

	// Summaries were generated from the source events.
	pt := index.points["req-1"]
	if !strings.Contains(pt.Payload.Summary, "CARD_DECLINED") && !strings.Contains(pt.Payload.Summary, "facts:") {
		t.Errorf("summary = %q", pt.Payload.Summary)
	}
	if pt.Payload.LatencyBucket != ">1000ms" {
		t.Errorf("latency bucket = %q", pt.Payload.LatencyBucket)
	}

	// Nothing left pending.
	n, _, _ = p.ProcessPendingLogs(context.Background(), 10)
	if n != 0 {
		t.Errorf("second run embedded %d, want 0", n)
	}
}

func TestProcessPendingLogsIsolatesBadRecord(t *testing.T) {
	// UPSTREAM_TIMEOUT appears only in req-3's summary; its presence
	// fails the whole batch, forcing the per-record fallback.
	embedder := &fakeEmbedder{failOn: "UPSTREAM_TIMEOUT"}
	index := newFakeIndex()
	p, store := seedPipeline(t, embedder, index)

	n, failed, err := p.ProcessPendingLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}
	if n != 2 || failed != 1 {
		t.Fatalf("embedded = %d failed = %d, want 2/1", n, failed)
	}

	if st, _ := store.EmbeddingStatus("req-1"); st != event.EmbeddingEmbedded {
		t.Errorf("req-1 status = %s", st)
	}
	if st, _ := store.EmbeddingStatus("req-2"); st != event.EmbeddingEmbedded {
		t.Errorf("req-2 status = %s", st)
	}
	if st, _ := store.EmbeddingStatus("req-3"); st != event.EmbeddingFailed {
		t.Errorf("req-3 status = %s, want failed", st)
	}
	if _, ok := index.points["req-3"]; ok {
		t.Error("failed record should not reach the index")
	}
}

func TestProcessPendingLogsIndexFailureMarksFailed(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	index.failUp = true
	p, store := seedPipeline(t, embedder, index)

	n, failed, err := p.ProcessPendingLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}
	if n != 0 || failed != 3 {
		t.Errorf("embedded = %d failed = %d, want 0/3", n, failed)
	}
	if st, _ := store.EmbeddingStatus("req-1"); st != event.EmbeddingFailed {
		t.Errorf("req-1 status = %s", st)
	}
}

func TestProcessPendingLogsRespectsLimit(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, _ := seedPipeline(t, embedder, index)

	n, _, err := p.ProcessPendingLogs(context.Background(), 2)
	if err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}
	if n != 2 {
		t.Errorf("embedded = %d, want 2", n)
	}
}

type recordedEmbed struct {
	batchSize int
	latencyMs int64
}

type fakeRecorder struct {
	mu     sync.Mutex
	embeds []recordedEmbed
}

func (f *fakeRecorder) RecordEmbed(batchSize int, latencyMs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeds = append(f.embeds, recordedEmbed{batchSize, latencyMs})
}

func TestProcessPendingLogsRecordsEmbedCalls(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, _ := seedPipeline(t, embedder, index)

	rec := &fakeRecorder{}
	p.SetRecorder(rec)

	if _, _, err := p.ProcessPendingLogs(context.Background(), 10); err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}

	// Three records at batch size 2 means two provider batches.
	if len(rec.embeds) != 2 {
		t.Fatalf("recorded embeds = %+v, want 2 batches", rec.embeds)
	}
	total := 0
	for _, e := range rec.embeds {
		total += e.batchSize
	}
	if total != 3 {
		t.Errorf("recorded batch sizes sum to %d, want 3", total)
	}
}

func TestEmbedByRequestID(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, store := seedPipeline(t, embedder, index)

	if err := p.EmbedByRequestID(context.Background(), "req-2"); err != nil {
		t.Fatalf("EmbedByRequestID: %v", err)
	}
	if st, _ := store.EmbeddingStatus("req-2"); st != event.EmbeddingEmbedded {
		t.Errorf("status = %s", st)
	}
	if _, ok := index.points["req-2"]; !ok {
		t.Error("point missing from index")
	}
}

func TestEmbedByRequestIDDeepBacklog(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	store := logstore.NewMemoryStore()
	enricher := summarize.NewEnricher(nil, nil, event.LatencyThresholds{}, nil)
	p := NewPipeline(store, index, embedder, enricher, Config{}, nil)

	// The target sits behind 120 older pending records, past any single
	// backlog page.
	base := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	events := make([]event.WideEvent, 0, 121)
	for i := 0; i < 120; i++ {
		events = append(events, event.WideEvent{
			RequestID: "req-old-" + strconv.Itoa(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Service:   "auth",
		})
	}
	events = append(events, event.WideEvent{
		RequestID: "req-target",
		Timestamp: base.Add(time.Hour),
		Service:   "payment",
	})
	if _, _, err := p.IngestEvents(context.Background(), events); err != nil {
		t.Fatalf("IngestEvents: %v", err)
	}

	if err := p.EmbedByRequestID(context.Background(), "req-target"); err != nil {
		t.Fatalf("EmbedByRequestID: %v", err)
	}
	if st, _ := store.EmbeddingStatus("req-target"); st != event.EmbeddingEmbedded {
		t.Fatalf("target status = %s, want embedded", st)
	}
	if _, ok := index.points["req-target"]; !ok {
		t.Error("target point missing from index")
	}
}

func TestEmbedByRequestIDReprocessesEmbedded(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, store := seedPipeline(t, embedder, index)

	if _, _, err := p.ProcessPendingLogs(context.Background(), 10); err != nil {
		t.Fatalf("ProcessPendingLogs: %v", err)
	}
	before := embedder.itemHits

	if err := p.EmbedByRequestID(context.Background(), "req-1"); err != nil {
		t.Fatalf("EmbedByRequestID: %v", err)
	}
	if embedder.itemHits != before+1 {
		t.Errorf("item embeddings = %d, want %d (embedded records still reprocess)", embedder.itemHits, before+1)
	}
	if st, _ := store.EmbeddingStatus("req-1"); st != event.EmbeddingEmbedded {
		t.Errorf("status = %s", st)
	}
}

func TestIngestEventsRejectsMissingRequestID(t *testing.T) {
	embedder := &fakeEmbedder{}
	p, _ := seedPipeline(t, embedder, newFakeIndex())

	_, _, err := p.IngestEvents(context.Background(), []event.WideEvent{{Service: "x"}})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSearchBuildsFilterFromMetadata(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	index.results = []vectordb.SearchResult{{ID: "p1", Score: 0.9}}
	p, _ := seedPipeline(t, embedder, index)

	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	results, err := p.Search(context.Background(), "checkout failures",
		query.Metadata{Service: "payment", HasError: true, Start: &start}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v", results)
	}
	if index.lastReq.Filter == nil {
		t.Fatal("expected filter")
	}
	if index.lastReq.Filter.Service != "payment" || !index.lastReq.Filter.HasError {
		t.Errorf("filter = %+v", index.lastReq.Filter)
	}
	if index.lastReq.Limit != 5 {
		t.Errorf("limit = %d", index.lastReq.Limit)
	}
}

func TestSearchNoMetadataMeansNoFilter(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p, _ := seedPipeline(t, embedder, index)

	if _, err := p.Search(context.Background(), "anything odd", query.Metadata{}, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if index.lastReq.Filter != nil {
		t.Errorf("filter = %+v, want nil", index.lastReq.Filter)
	}
}
