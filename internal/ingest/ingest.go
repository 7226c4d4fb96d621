// Package ingest runs the embedding pipeline: it turns stored wide
// events into summarized, embedded, searchable vector points.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/logstore"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/summarize"
	"github.com/logsage/logsage/internal/vectordb"
)

// VectorIndex is the slice of the vector store the pipeline needs.
type VectorIndex interface {
	UpsertPoints(ctx context.Context, collection string, points []vectordb.Point) error
	Search(ctx context.Context, collection string, req vectordb.SearchRequest) ([]vectordb.SearchResult, error)
	DeleteByRequestID(ctx context.Context, collection, requestID string) error
}

// Recorder receives embedding call observations; the metrics registry
// satisfies it.
type Recorder interface {
	RecordEmbed(batchSize int, latencyMs int64)
}

// Config tunes the pipeline.
type Config struct {
	// Collection is the vector collection name.
	Collection string

	// BatchSize is how many summaries go to the provider per call.
	BatchSize int

	// Concurrency bounds in-flight embedding batches.
	Concurrency int
}

// Pipeline moves log records pending -> embedded|failed.
type Pipeline struct {
	storage  logstore.Storage
	vectors  VectorIndex
	embedder llm.Embedder
	enricher *summarize.Enricher
	recorder Recorder
	cfg      Config
	log      *logger.Logger
}

// SetRecorder attaches metrics recording to provider embedding calls.
// Optional; the pipeline records nothing without one.
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(storage logstore.Storage, vectors VectorIndex, embedder llm.Embedder, enricher *summarize.Enricher, cfg Config, log *logger.Logger) *Pipeline {
	if cfg.Collection == "" {
		cfg.Collection = "events"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{
		storage:  storage,
		vectors:  vectors,
		embedder: embedder,
		enricher: enricher,
		cfg:      cfg,
		log:      log,
	}
}

// IngestEvents stores raw events and queues them for embedding.
func (p *Pipeline) IngestEvents(ctx context.Context, events []event.WideEvent) (stored, queued int64, err error) {
	for i := range events {
		if events[i].RequestID == "" {
			return 0, 0, apperrors.ValidationError("event is missing request_id")
		}
	}

	stored, err = p.storage.InsertEvents(ctx, events)
	if err != nil {
		return 0, 0, err
	}
	queued, err = p.storage.EnqueuePending(ctx, events)
	if err != nil {
		return stored, 0, err
	}
	return stored, queued, nil
}

// ProcessPendingLogs embeds up to limit pending records and returns how
// many reached the embedded state and how many were marked failed.
// Failures are isolated per record: one bad summary never blocks the
// rest of the run.
func (p *Pipeline) ProcessPendingLogs(ctx context.Context, limit int) (embedded, failed int, err error) {
	pending, err := p.storage.FindPendingEmbedding(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	// Summaries first. Records without source events cannot be
	// summarized or embedded and fail immediately.
	var ready []event.LogEmbedding
	for _, rec := range pending {
		if rec.Summary == "" {
			if rec.Source == nil {
				if err := p.storage.MarkEmbeddingFailed(ctx, rec.ID, "source event missing"); err != nil {
					p.warn("mark failed", err)
				}
				failed++
				continue
			}
			rec.Summary = p.enricher.Summarize(ctx, rec.Source)
		}
		ready = append(ready, rec)
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for start := 0; start < len(ready); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(ready) {
			end = len(ready)
		}
		batch := ready[start:end]

		g.Go(func() error {
			n, f := p.processBatch(gctx, batch)
			mu.Lock()
			embedded += n
			failed += f
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return embedded, failed, err
	}
	if p.log != nil {
		p.log.Info("embedding run complete",
			"pending", len(pending),
			"embedded", embedded,
			"failed", failed)
	}
	return embedded, failed, nil
}

// processBatch embeds one batch, falling back to per-record calls when
// the batch call fails so only genuinely bad records end up failed.
// Records skipped by a cancelled context count as neither embedded nor
// failed; they stay pending for the next run.
func (p *Pipeline) processBatch(ctx context.Context, batch []event.LogEmbedding) (embedded, failed int) {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Summary
	}

	started := time.Now()
	results, err := p.embedder.CreateBatchEmbeddings(ctx, texts)
	p.recordEmbed(len(batch), started)
	if err == nil && len(results) == len(batch) {
		for i := range batch {
			if p.persist(ctx, &batch[i], &results[i]) {
				embedded++
			} else {
				failed++
			}
		}
		return embedded, failed
	}

	if p.log != nil {
		p.log.Warn("batch embedding failed, retrying records individually",
			"batch_size", len(batch))
	}

	for i := range batch {
		started := time.Now()
		result, err := p.embedder.CreateEmbedding(ctx, batch[i].Summary)
		p.recordEmbed(1, started)
		if err != nil {
			if ctx.Err() != nil {
				return embedded, failed
			}
			if merr := p.storage.MarkEmbeddingFailed(ctx, batch[i].ID, err.Error()); merr != nil {
				p.warn("mark failed", merr)
			}
			failed++
			continue
		}
		if p.persist(ctx, &batch[i], result) {
			embedded++
		} else {
			failed++
		}
	}
	return embedded, failed
}

func (p *Pipeline) recordEmbed(batchSize int, started time.Time) {
	if p.recorder != nil {
		p.recorder.RecordEmbed(batchSize, time.Since(started).Milliseconds())
	}
}

// persist writes the vector point and advances the record to embedded.
func (p *Pipeline) persist(ctx context.Context, rec *event.LogEmbedding, res *llm.EmbeddingResult) bool {
	point := vectordb.Point{
		ID:     pointID(rec),
		Vector: res.Vector,
		Payload: vectordb.PointPayload{
			RequestID: rec.RequestID,
			Timestamp: rec.Timestamp,
			Summary:   rec.Summary,
			Model:     res.Model,
		},
	}
	if src := rec.Source; src != nil {
		point.Payload.Service = src.Service
		point.Payload.Route = src.Route
		point.Payload.StatusCode = src.StatusCode
		point.Payload.ErrorCode = src.ErrorCode
		point.Payload.UserRole = src.UserRole
		point.Payload.LatencyBucket = string(event.ClassifyLatencyMS(src.DurationMS))
	}

	if err := p.vectors.UpsertPoints(ctx, p.cfg.Collection, []vectordb.Point{point}); err != nil {
		if merr := p.storage.MarkEmbeddingFailed(ctx, rec.ID, fmt.Sprintf("vector upsert: %v", err)); merr != nil {
			p.warn("mark failed", merr)
		}
		return false
	}

	rec.Model = res.Model
	rec.Vector = res.Vector
	if err := p.storage.SaveEmbedding(ctx, rec); err != nil {
		p.warn("save embedding", err)
		return false
	}
	return true
}

// EmbedByRequestID embeds a single event on demand, bypassing the queue.
// The record is reprocessed whatever its current status, so it also
// serves as a targeted re-embed after a summary or model change.
func (p *Pipeline) EmbedByRequestID(ctx context.Context, requestID string) error {
	src, err := p.storage.FindByRequestID(ctx, requestID)
	if err != nil {
		return err
	}

	if _, err := p.storage.EnqueuePending(ctx, []event.WideEvent{*src}); err != nil {
		return err
	}

	rec, err := p.storage.FindEmbeddingByRequestID(ctx, requestID)
	if err != nil {
		return err
	}
	if rec.Source == nil {
		rec.Source = src
	}
	if rec.Summary == "" {
		rec.Summary = p.enricher.Summarize(ctx, rec.Source)
	}
	started := time.Now()
	result, err := p.embedder.CreateEmbedding(ctx, rec.Summary)
	p.recordEmbed(1, started)
	if err != nil {
		if merr := p.storage.MarkEmbeddingFailed(ctx, rec.ID, err.Error()); merr != nil {
			p.warn("mark failed", merr)
		}
		return err
	}
	if !p.persist(ctx, rec, result) {
		return apperrors.VectorError("persist embedding for "+requestID, nil)
	}
	return nil
}

// Search embeds the query text and runs a filtered vector search.
func (p *Pipeline) Search(ctx context.Context, text string, md query.Metadata, limit int) ([]vectordb.SearchResult, error) {
	started := time.Now()
	result, err := p.embedder.CreateEmbedding(ctx, text)
	p.recordEmbed(1, started)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}

	return p.vectors.Search(ctx, p.cfg.Collection, vectordb.SearchRequest{
		Vector: result.Vector,
		Limit:  uint64(limit),
		Filter: filterFrom(md),
	})
}

// filterFrom converts query metadata to a vector search filter. Nil when
// the metadata imposes no constraint.
func filterFrom(md query.Metadata) *vectordb.SearchFilter {
	f := &vectordb.SearchFilter{
		Service:   md.Service,
		Route:     md.Route,
		ErrorCode: md.ErrorCode,
		UserRole:  md.UserRole,
		HasError:  md.HasError,
		Start:     md.Start,
		End:       md.End,
	}
	if f.Service == "" && f.Route == "" && f.ErrorCode == "" && f.UserRole == "" &&
		!f.HasError && f.Start == nil && f.End == nil {
		return nil
	}
	return f
}

// pointID derives a stable UUID for a record so re-embedding overwrites
// the prior point instead of duplicating it.
func pointID(rec *event.LogEmbedding) string {
	if rec.ID != "" {
		return rec.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.RequestID)).String()
}

func (p *Pipeline) warn(msg string, err error) {
	if p.log != nil {
		p.log.WithError(err).Warn(msg)
	}
}
