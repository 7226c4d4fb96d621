// Package answer orchestrates the conversational analysis flow: session
// load, history compression, intent routing, retrieval, reranking,
// grounding, and synthesis.
package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logsage/logsage/internal/aggregate"
	"github.com/logsage/logsage/internal/conversation"
	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/logstore"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/session"
	"github.com/logsage/logsage/internal/vectordb"
)

// Retriever is the slice of the ingest pipeline the orchestrator needs.
type Retriever interface {
	Search(ctx context.Context, text string, md query.Metadata, limit int) ([]vectordb.SearchResult, error)
}

// Publisher receives completion notifications; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Recorder receives pipeline observations. The metrics registry
// satisfies it; methods must be safe for concurrent use.
type Recorder interface {
	RecordRetrieval(latencyMs int64, resultCount int)
	RecordRerank(latencyMs int64)
	RecordSessionCache(hit bool)
	RecordBusPublish(topic string, err error)
}

// TopicAnswerCompleted is published after every successful turn.
const TopicAnswerCompleted = "answer.completed"

// Config tunes the orchestrator.
type Config struct {
	// RetrieveLimit is how many candidates the vector search returns.
	RetrieveLimit int

	// TopK is how many candidates survive reranking into grounding.
	TopK int

	// SessionTTL is the idle lifetime of a session entry.
	SessionTTL time.Duration
}

// Service answers questions about log behavior, one conversational turn
// at a time.
type Service struct {
	cache        session.Cache
	extractor    *query.Extractor
	compressor   *conversation.Compressor
	reformulator *conversation.Reformulator
	retriever    Retriever
	reranker     llm.Reranker
	synthesizer  llm.Synthesizer
	statistical  *aggregate.Engine
	storage      logstore.Storage
	publisher    Publisher
	recorder     Recorder
	cfg          Config
	log          *logger.Logger
	now          func() time.Time
}

// SetRecorder attaches metrics recording to the pipeline. Optional; the
// service records nothing without one.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// NewService wires the orchestrator. The publisher may be nil.
func NewService(
	cache session.Cache,
	extractor *query.Extractor,
	compressor *conversation.Compressor,
	reformulator *conversation.Reformulator,
	retriever Retriever,
	reranker llm.Reranker,
	synthesizer llm.Synthesizer,
	statistical *aggregate.Engine,
	storage logstore.Storage,
	publisher Publisher,
	cfg Config,
	log *logger.Logger,
) *Service {
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = 20
	}
	if cfg.TopK <= 0 || cfg.TopK > cfg.RetrieveLimit {
		cfg.TopK = 5
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	return &Service{
		cache:        cache,
		extractor:    extractor,
		compressor:   compressor,
		reformulator: reformulator,
		retriever:    retriever,
		reranker:     reranker,
		synthesizer:  synthesizer,
		statistical:  statistical,
		storage:      storage,
		publisher:    publisher,
		cfg:          cfg,
		log:          log,
		now:          time.Now,
	}
}

// Ask answers one question within a session. A failing session store
// degrades the turn to stateless instead of failing it; a cancelled
// context fails the turn and never caches a partial result.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (*session.AnalysisResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.ValidationError("question is empty")
	}

	log := s.log
	if log != nil {
		log = log.WithSession(sessionID)
	}

	history, cacheOK := s.loadHistory(ctx, sessionID, log)
	history = s.compressor.Compress(ctx, history)

	parsed := s.extractor.Parse(question)

	var result *session.AnalysisResult
	var err error
	if parsed.Intent == query.IntentStatistical {
		result, err = s.answerStatistical(ctx, parsed)
	} else {
		result, err = s.answerSemantic(ctx, parsed, history)
	}
	if err != nil {
		return nil, err
	}

	result.SessionID = sessionID
	result.CreatedAt = s.now()

	// A cancelled request must not leave a partial turn in the session.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if cacheOK && sessionID != "" {
		s.saveTurn(ctx, sessionID, history, result, log)
	}
	s.notify(ctx, result)

	return result, nil
}

// GetChatHistory returns the stored history for a session, oldest first.
func (s *Service) GetChatHistory(ctx context.Context, sessionID string) ([]session.AnalysisResult, error) {
	entry, ok, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return entry.History, nil
}

// ClearSession removes a session's history.
func (s *Service) ClearSession(ctx context.Context, sessionID string) (bool, error) {
	return s.cache.Delete(ctx, sessionID)
}

func (s *Service) loadHistory(ctx context.Context, sessionID string, log *logger.Logger) ([]session.AnalysisResult, bool) {
	if sessionID == "" {
		return nil, false
	}

	entry, ok, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		if log != nil {
			log.WithError(err).Warn("session store unavailable, answering statelessly")
		}
		return nil, false
	}
	if s.recorder != nil {
		s.recorder.RecordSessionCache(ok)
	}
	if !ok {
		return nil, true
	}
	return entry.History, true
}

func (s *Service) saveTurn(ctx context.Context, sessionID string, history []session.AnalysisResult, result *session.AnalysisResult, log *logger.Logger) {
	updated := append(append([]session.AnalysisResult{}, history...), *result)
	err := s.cache.Set(ctx, sessionID, &session.Entry{
		History: updated,
		TTL:     s.cfg.SessionTTL,
	})
	if err != nil && log != nil {
		log.WithError(err).Warn("failed to persist session turn")
	}
}

func (s *Service) notify(ctx context.Context, result *session.AnalysisResult) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, TopicAnswerCompleted, result)
	if s.recorder != nil {
		s.recorder.RecordBusPublish(TopicAnswerCompleted, err)
	}
	if err != nil && s.log != nil {
		s.log.WithError(err).Warn("failed to publish answer notification")
	}
}

// answerStatistical delegates to the aggregation engine. The retrieval
// path is never touched for statistical questions.
func (s *Service) answerStatistical(ctx context.Context, parsed *query.Parsed) (*session.AnalysisResult, error) {
	res, err := s.statistical.Answer(ctx, parsed)
	if err != nil {
		return nil, err
	}
	return &session.AnalysisResult{
		Question:   parsed.Original,
		Intent:     parsed.Intent,
		Answer:     res.Answer,
		Confidence: res.Confidence,
	}, nil
}

// answerSemantic runs reformulate -> retrieve -> rerank -> ground ->
// synthesize.
func (s *Service) answerSemantic(ctx context.Context, parsed *query.Parsed, history []session.AnalysisResult) (*session.AnalysisResult, error) {
	searchText := s.reformulator.Reformulate(ctx, parsed.Original, history)

	started := time.Now()
	candidates, err := s.retriever.Search(ctx, searchText, parsed.Metadata, s.cfg.RetrieveLimit)
	if s.recorder != nil {
		s.recorder.RecordRetrieval(time.Since(started).Milliseconds(), len(candidates))
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperrors.RetrievalFailureError(
			fmt.Sprintf("no log records match %q", searchText))
	}

	top := s.rerank(ctx, searchText, candidates)
	blocks, sources, err := s.ground(ctx, top)
	if err != nil {
		return nil, err
	}

	synthesis, err := s.synthesizer.Synthesize(ctx, blocks, historyLines(history), llm.SynthesisRules, searchText)
	if err != nil {
		return nil, err
	}

	result := &session.AnalysisResult{
		Question:   parsed.Original,
		Intent:     parsed.Intent,
		Answer:     synthesis.Answer,
		Sources:    citedSources(synthesis.Sources, sources),
		Confidence: synthesis.Confidence,
	}
	return result, nil
}

// rerank orders candidates by provider relevance; on failure the vector
// similarity order stands.
func (s *Service) rerank(ctx context.Context, searchText string, candidates []vectordb.SearchResult) []vectordb.SearchResult {
	k := s.cfg.TopK
	if k > len(candidates) {
		k = len(candidates)
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Payload.Summary
	}

	started := time.Now()
	ranked, err := s.reranker.Rerank(ctx, searchText, docs, k)
	if s.recorder != nil {
		s.recorder.RecordRerank(time.Since(started).Milliseconds())
	}
	if err != nil || len(ranked) == 0 {
		if err != nil && s.log != nil {
			s.log.WithError(err).Warn("rerank failed, keeping retrieval order")
		}
		return candidates[:k]
	}

	out := make([]vectordb.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, candidates[r.Index])
	}
	return out
}

// ground fans out to storage to attach full events to each candidate,
// then renders evidence blocks. Partial grounding failures degrade to
// summary-only blocks; if every lookup fails the turn fails.
func (s *Service) ground(ctx context.Context, top []vectordb.SearchResult) ([]string, []string, error) {
	events := make([]*event.WideEvent, len(top))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	var mu sync.Mutex
	failures := 0

	for i := range top {
		g.Go(func() error {
			we, err := s.storage.FindByRequestID(gctx, top[i].Payload.RequestID)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				return nil
			}
			events[i] = we
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if failures == len(top) {
		return nil, nil, apperrors.RetrievalFailureError("could not load any source events for grounding")
	}

	blocks := make([]string, 0, len(top))
	sources := make([]string, 0, len(top))
	for i, c := range top {
		blocks = append(blocks, evidenceBlock(c, events[i]))
		sources = append(sources, c.Payload.RequestID)
	}
	return blocks, sources, nil
}

// evidenceBlock renders one candidate for the synthesis prompt.
func evidenceBlock(c vectordb.SearchResult, we *event.WideEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", c.Payload.RequestID, c.Payload.Summary)
	if we == nil {
		return strings.TrimRight(sb.String(), "\n")
	}

	fmt.Fprintf(&sb, "at=%s service=%s route=%s method=%s status=%d",
		we.Timestamp.Format(time.RFC3339), we.Service, we.Route, we.Method, we.StatusCode)
	if we.DurationMS != nil {
		fmt.Fprintf(&sb, " duration_ms=%d", *we.DurationMS)
	}
	if we.ErrorCode != "" {
		fmt.Fprintf(&sb, " error=%s", we.ErrorCode)
	}
	if we.ErrorMessage != "" {
		fmt.Fprintf(&sb, "\nerror_message: %s", we.ErrorMessage)
	}
	for k, v := range we.Metadata {
		fmt.Fprintf(&sb, "\n%s: %s", k, v)
	}
	return sb.String()
}

// historyLines renders compressed history as Q/A pairs for the synthesis
// prompt, matching the reformulation format.
func historyLines(history []session.AnalysisResult) []string {
	if len(history) == 0 {
		return nil
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("Q: %s\nA: %s", t.Question, t.Answer))
	}
	return lines
}

// citedSources keeps the provider's citations when they reference real
// evidence, otherwise falls back to everything that was shown to it.
func citedSources(cited, shown []string) []string {
	if len(cited) == 0 {
		return shown
	}
	valid := make(map[string]bool, len(shown))
	for _, id := range shown {
		valid[id] = true
	}
	var out []string
	for _, id := range cited {
		if valid[id] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return shown
	}
	return out
}
