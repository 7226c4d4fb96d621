package logstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/logsage/logsage/internal/event"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
)

// MemoryStore implements Storage in process memory. Used in tests and
// single-node development; the aggregation semantics match PostgresStore.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]event.WideEvent  // keyed by request id
	embeddings map[string]*memoryEmbedding // keyed by embedding id
	byRequest  map[string]string           // request id -> embedding id
}

type memoryEmbedding struct {
	rec    event.LogEmbedding
	reason string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]event.WideEvent),
		embeddings: make(map[string]*memoryEmbedding),
		byRequest:  make(map[string]string),
	}
}

// InsertEvents stores a batch of wide events.
func (s *MemoryStore) InsertEvents(ctx context.Context, events []event.WideEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.events[e.RequestID] = e
	}
	return int64(len(events)), nil
}

// FindByRequestID returns the event for a request id.
func (s *MemoryStore) FindByRequestID(ctx context.Context, requestID string) (*event.WideEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[requestID]
	if !ok {
		return nil, apperrors.NotFoundError("event " + requestID)
	}
	return &e, nil
}

// FindByRequestIDs returns the events for the given request ids.
func (s *MemoryStore) FindByRequestIDs(ctx context.Context, requestIDs []string) ([]event.WideEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.WideEvent
	for _, id := range requestIDs {
		if e, ok := s.events[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// EnqueuePending creates pending embedding records for events lacking one.
func (s *MemoryStore) EnqueuePending(ctx context.Context, events []event.WideEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created int64
	for _, e := range events {
		if _, exists := s.byRequest[e.RequestID]; exists {
			continue
		}
		id := uuid.NewString()
		s.embeddings[id] = &memoryEmbedding{rec: event.LogEmbedding{
			ID:        id,
			RequestID: e.RequestID,
			Timestamp: e.Timestamp,
			Service:   e.Service,
			Status:    event.EmbeddingPending,
		}}
		s.byRequest[e.RequestID] = id
		created++
	}
	return created, nil
}

// FindPendingEmbedding returns up to limit pending records, oldest first.
func (s *MemoryStore) FindPendingEmbedding(ctx context.Context, limit int) ([]event.LogEmbedding, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.LogEmbedding
	for _, m := range s.embeddings {
		if m.rec.Status != event.EmbeddingPending {
			continue
		}
		rec := m.rec
		if src, ok := s.events[rec.RequestID]; ok {
			srcCopy := src
			rec.Source = &srcCopy
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindEmbeddingByRequestID returns the embedding record for a request id
// regardless of status, with the source event attached.
func (s *MemoryStore) FindEmbeddingByRequestID(ctx context.Context, requestID string) (*event.LogEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRequest[requestID]
	if !ok {
		return nil, apperrors.NotFoundError("embedding for request " + requestID)
	}
	rec := s.embeddings[id].rec
	if src, ok := s.events[requestID]; ok {
		srcCopy := src
		rec.Source = &srcCopy
	}
	return &rec, nil
}

// SaveEmbedding marks the record embedded with its summary and model.
func (s *MemoryStore) SaveEmbedding(ctx context.Context, emb *event.LogEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.embeddings[emb.ID]
	if !ok {
		return apperrors.NotFoundError("embedding " + emb.ID)
	}
	m.rec.Status = event.EmbeddingEmbedded
	m.rec.Summary = emb.Summary
	m.rec.Model = emb.Model
	return nil
}

// MarkEmbeddingFailed moves the record to failed with a reason.
func (s *MemoryStore) MarkEmbeddingFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.embeddings[id]
	if !ok {
		return apperrors.NotFoundError("embedding " + id)
	}
	m.rec.Status = event.EmbeddingFailed
	m.reason = reason
	return nil
}

// EmbeddingStatus reports the lifecycle state for a request id; used in tests.
func (s *MemoryStore) EmbeddingStatus(requestID string) (event.EmbeddingStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRequest[requestID]
	if !ok {
		return "", false
	}
	return s.embeddings[id].rec.Status, true
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Aggregate runs a typed pipeline over the stored events.
func (s *MemoryStore) Aggregate(ctx context.Context, p Pipeline) ([]Row, error) {
	if err := p.Validate(); err != nil {
		return nil, apperrors.AggregationUnsatisfiableError(err.Error())
	}

	s.mu.RLock()
	var matched []event.WideEvent
	for _, e := range s.events {
		if matchEvent(p.Match, e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	groups := make(map[string][]event.WideEvent)
	var order []string
	for _, e := range matched {
		key := groupKey(p.GroupBy, e)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	rows := make([]Row, 0, len(groups))
	for _, key := range order {
		members := groups[key]
		r := Row{Values: make(map[string]float64, len(p.Metrics))}
		if len(p.GroupBy) > 0 {
			r.Keys = make(map[string]string, len(p.GroupBy))
			for i, field := range p.GroupBy {
				r.Keys[field] = strings.Split(key, "\x00")[i]
			}
		}
		for _, m := range p.Metrics {
			if v, ok := applyAggregator(m, members); ok {
				r.Values[m.Name] = v
			}
		}
		rows = append(rows, r)
	}

	if p.Sort != nil {
		by, desc := p.Sort.By, p.Sort.Desc
		sort.SliceStable(rows, func(i, j int) bool {
			if desc {
				return rows[i].Values[by] > rows[j].Values[by]
			}
			return rows[i].Values[by] < rows[j].Values[by]
		})
	}
	if p.Limit > 0 && len(rows) > p.Limit {
		rows = rows[:p.Limit]
	}
	return rows, nil
}

func matchEvent(m Match, e event.WideEvent) bool {
	if m.Service != "" && e.Service != m.Service {
		return false
	}
	if m.Route != "" && e.Route != m.Route {
		return false
	}
	if m.ErrorCode != "" && e.ErrorCode != m.ErrorCode {
		return false
	}
	if m.UserRole != "" && e.UserRole != m.UserRole {
		return false
	}
	if m.HasError && m.ErrorCode == "" && !e.HasError() {
		return false
	}
	if m.MinStatus > 0 && e.StatusCode < m.MinStatus {
		return false
	}
	if m.Start != nil && e.Timestamp.Before(*m.Start) {
		return false
	}
	if m.End != nil && !e.Timestamp.Before(*m.End) {
		return false
	}
	return true
}

func groupKey(fields []string, e event.WideEvent) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		switch f {
		case "service":
			parts[i] = e.Service
		case "route":
			parts[i] = e.Route
		case "error_code":
			parts[i] = e.ErrorCode
		case "user_role":
			parts[i] = e.UserRole
		case "status_code":
			parts[i] = strconv.Itoa(e.StatusCode)
		}
	}
	return strings.Join(parts, "\x00")
}

// applyAggregator computes one metric over the group. Returns false when
// the metric has no samples, matching SQL NULL semantics.
func applyAggregator(m Metric, members []event.WideEvent) (float64, bool) {
	if m.Agg == AggCount {
		return float64(len(members)), true
	}

	var samples []float64
	for _, e := range members {
		switch m.Field {
		case "duration_ms":
			if e.DurationMS != nil {
				samples = append(samples, float64(*e.DurationMS))
			}
		case "status_code":
			samples = append(samples, float64(e.StatusCode))
		}
	}
	if len(samples) == 0 {
		return 0, false
	}

	switch m.Agg {
	case AggSum, AggAvg:
		var sum float64
		for _, v := range samples {
			sum += v
		}
		if m.Agg == AggSum {
			return sum, true
		}
		return sum / float64(len(samples)), true
	case AggMin:
		min := samples[0]
		for _, v := range samples[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	case AggMax:
		max := samples[0]
		for _, v := range samples[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	case AggP50:
		return percentile(samples, 0.5), true
	case AggP95:
		return percentile(samples, 0.95), true
	case AggP99:
		return percentile(samples, 0.99), true
	}
	return 0, false
}

// percentile interpolates like percentile_cont.
func percentile(samples []float64, q float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
