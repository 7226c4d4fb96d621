// Package logstore persists wide events and their embedding lifecycle,
// and runs typed aggregation pipelines over them.
package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/logsage/logsage/internal/event"
)

// Aggregator is a supported aggregation function.
type Aggregator string

const (
	AggCount Aggregator = "count"
	AggAvg   Aggregator = "avg"
	AggSum   Aggregator = "sum"
	AggMin   Aggregator = "min"
	AggMax   Aggregator = "max"
	AggP50   Aggregator = "p50"
	AggP95   Aggregator = "p95"
	AggP99   Aggregator = "p99"
)

// Match is the filter stage of an aggregation pipeline. Zero fields
// impose no constraint.
type Match struct {
	// Service filters by emitting service.
	Service string

	// Route filters by route pattern.
	Route string

	// ErrorCode filters by exact error code.
	ErrorCode string

	// UserRole filters by the acting user's role.
	UserRole string

	// HasError restricts to failed events (error code set or status >= 500).
	HasError bool

	// MinStatus restricts to events with status code >= this value.
	MinStatus int

	// Start bounds the event timestamp from below (inclusive).
	Start *time.Time

	// End bounds the event timestamp from above (exclusive).
	End *time.Time
}

// Metric is one aggregated output column.
type Metric struct {
	// Name labels the metric in result rows.
	Name string

	// Agg is the aggregation function.
	Agg Aggregator

	// Field is the aggregated column; empty for count.
	Field string
}

// Sort orders result rows by a metric name.
type Sort struct {
	// By names the metric to order by.
	By string

	// Desc orders highest first.
	Desc bool
}

// Pipeline is a typed aggregation over stored wide events. Stages apply
// in fixed order: match, group, aggregate, sort, limit.
type Pipeline struct {
	Match   Match
	GroupBy []string
	Metrics []Metric
	Sort    *Sort
	Limit   int
}

// Validate checks the pipeline against the known schema.
func (p Pipeline) Validate() error {
	if len(p.Metrics) == 0 {
		return fmt.Errorf("pipeline has no metrics")
	}
	for _, g := range p.GroupBy {
		if !groupableFields[g] {
			return fmt.Errorf("cannot group by %q", g)
		}
	}
	seen := make(map[string]bool, len(p.Metrics))
	for _, m := range p.Metrics {
		if m.Name == "" {
			return fmt.Errorf("metric has no name")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate metric name %q", m.Name)
		}
		seen[m.Name] = true
		if _, ok := aggregatorSQL[m.Agg]; !ok {
			return fmt.Errorf("unknown aggregator %q", m.Agg)
		}
		if m.Agg == AggCount {
			continue
		}
		if !aggregatableFields[m.Field] {
			return fmt.Errorf("cannot aggregate field %q", m.Field)
		}
	}
	if p.Sort != nil && !seen[p.Sort.By] {
		return fmt.Errorf("sort references unknown metric %q", p.Sort.By)
	}
	return nil
}

// groupableFields are the wide-event columns valid in GroupBy.
var groupableFields = map[string]bool{
	"service":     true,
	"route":       true,
	"error_code":  true,
	"user_role":   true,
	"status_code": true,
}

// aggregatableFields are the numeric columns valid as a Metric field.
var aggregatableFields = map[string]bool{
	"duration_ms": true,
	"status_code": true,
}

// Row is one aggregation result: group key values plus metric values.
type Row struct {
	// Keys maps group-by field names to their values for this row.
	Keys map[string]string `json:"keys,omitempty"`

	// Values maps metric names to their aggregated values.
	Values map[string]float64 `json:"values"`
}

// Storage is the wide-event persistence contract.
type Storage interface {
	// InsertEvents stores a batch of wide events.
	InsertEvents(ctx context.Context, events []event.WideEvent) (int64, error)

	// FindByRequestID returns the event for a request id.
	FindByRequestID(ctx context.Context, requestID string) (*event.WideEvent, error)

	// FindByRequestIDs returns the events for the given request ids, in
	// no particular order. Missing ids are silently skipped.
	FindByRequestIDs(ctx context.Context, requestIDs []string) ([]event.WideEvent, error)

	// EnqueuePending creates pending embedding records for events that do
	// not already have one. Returns the number of records created.
	EnqueuePending(ctx context.Context, events []event.WideEvent) (int64, error)

	// FindPendingEmbedding returns up to limit pending embedding records,
	// oldest first, with their source events attached.
	FindPendingEmbedding(ctx context.Context, limit int) ([]event.LogEmbedding, error)

	// FindEmbeddingByRequestID returns the embedding record for a request
	// id regardless of its status, with the source event attached.
	FindEmbeddingByRequestID(ctx context.Context, requestID string) (*event.LogEmbedding, error)

	// SaveEmbedding marks the record embedded and stores its summary and
	// model attribution.
	SaveEmbedding(ctx context.Context, emb *event.LogEmbedding) error

	// MarkEmbeddingFailed moves the record to failed with a reason.
	MarkEmbeddingFailed(ctx context.Context, id, reason string) error

	// Aggregate runs a typed pipeline and returns its rows.
	Aggregate(ctx context.Context, p Pipeline) ([]Row, error)

	// Ping checks storage connectivity.
	Ping(ctx context.Context) error
}
