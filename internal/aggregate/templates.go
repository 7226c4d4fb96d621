// Package aggregate answers statistical questions by binding them to
// metric templates and running typed pipelines over the log store.
package aggregate

import (
	"strings"

	"github.com/logsage/logsage/internal/logstore"
	"github.com/logsage/logsage/internal/query"
)

// Template binds a family of statistical questions to a pipeline shape.
// Selection is signal-driven: the first template whose Matches returns
// true for the parsed query wins, in registration order.
type Template struct {
	// ID identifies the template.
	ID string

	// Description says what the template measures, for operator output.
	Description string

	// Matches reports whether this template can serve the parsed query.
	Matches func(q *query.Parsed) bool

	// Build produces the pipeline, binding filters from query metadata.
	Build func(q *query.Parsed) logstore.Pipeline
}

// DefaultTemplates returns the built-in metric templates in priority
// order. More specific templates come first.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:          "top_error_codes",
			Description: "most frequent error codes",
			Matches: func(q *query.Parsed) bool {
				return q.Metadata.HasError &&
					(hasAny(q, "top", "most common", "most frequent", "breakdown", "which errors", "what errors"))
			},
			Build: func(q *query.Parsed) logstore.Pipeline {
				return logstore.Pipeline{
					Match:   matchFrom(q, true),
					GroupBy: []string{"error_code"},
					Metrics: []logstore.Metric{{Name: "count", Agg: logstore.AggCount}},
					Sort:    &logstore.Sort{By: "count", Desc: true},
					Limit:   10,
				}
			},
		},
		{
			ID:          "error_count_by_role",
			Description: "error counts broken down by user role",
			Matches: func(q *query.Parsed) bool {
				return q.Metadata.HasError &&
					(hasAny(q, "by role", "per role", "by user role") ||
						(q.Metadata.UserRole == "" && len(q.RoleTerms) > 1))
			},
			Build: func(q *query.Parsed) logstore.Pipeline {
				return logstore.Pipeline{
					Match:   matchFrom(q, true),
					GroupBy: []string{"user_role"},
					Metrics: []logstore.Metric{{Name: "errors", Agg: logstore.AggCount}},
					Sort:    &logstore.Sort{By: "errors", Desc: true},
				}
			},
		},
		{
			ID:          "latency_percentiles",
			Description: "latency percentiles and averages",
			Matches: func(q *query.Parsed) bool {
				return len(q.LatencyTerms) > 0 ||
					hasAny(q, "p95", "p99", "percentile", "latency", "response time", "how slow", "how fast", "average duration")
			},
			Build: func(q *query.Parsed) logstore.Pipeline {
				p := logstore.Pipeline{
					Match: matchFrom(q, false),
					Metrics: []logstore.Metric{
						{Name: "avg_ms", Agg: logstore.AggAvg, Field: "duration_ms"},
						{Name: "p50_ms", Agg: logstore.AggP50, Field: "duration_ms"},
						{Name: "p95_ms", Agg: logstore.AggP95, Field: "duration_ms"},
						{Name: "p99_ms", Agg: logstore.AggP99, Field: "duration_ms"},
					},
				}
				if q.Metadata.Service == "" && hasAny(q, "per service", "by service", "each service") {
					p.GroupBy = []string{"service"}
					p.Sort = &logstore.Sort{By: "p95_ms", Desc: true}
				}
				return p
			},
		},
		{
			ID:          "error_count",
			Description: "error counts, optionally grouped by service",
			Matches: func(q *query.Parsed) bool {
				return q.Metadata.HasError
			},
			Build: func(q *query.Parsed) logstore.Pipeline {
				p := logstore.Pipeline{
					Match:   matchFrom(q, true),
					Metrics: []logstore.Metric{{Name: "errors", Agg: logstore.AggCount}},
				}
				if q.Metadata.Service == "" {
					p.GroupBy = []string{"service"}
					p.Sort = &logstore.Sort{By: "errors", Desc: true}
				}
				return p
			},
		},
		{
			ID:          "request_volume",
			Description: "request counts, optionally grouped by service",
			Matches: func(q *query.Parsed) bool {
				return hasAny(q, "how many", "count", "volume", "traffic", "number of requests", "requests per")
			},
			Build: func(q *query.Parsed) logstore.Pipeline {
				p := logstore.Pipeline{
					Match:   matchFrom(q, false),
					Metrics: []logstore.Metric{{Name: "requests", Agg: logstore.AggCount}},
				}
				if q.Metadata.Service == "" && hasAny(q, "per service", "by service", "each service") {
					p.GroupBy = []string{"service"}
					p.Sort = &logstore.Sort{By: "requests", Desc: true}
				}
				return p
			},
		},
	}
}

// matchFrom binds a pipeline match stage from query metadata.
func matchFrom(q *query.Parsed, errorsOnly bool) logstore.Match {
	return logstore.Match{
		Service:   q.Metadata.Service,
		Route:     q.Metadata.Route,
		ErrorCode: q.Metadata.ErrorCode,
		UserRole:  q.Metadata.UserRole,
		HasError:  errorsOnly || q.Metadata.HasError,
		Start:     q.Metadata.Start,
		End:       q.Metadata.End,
	}
}

func hasAny(q *query.Parsed, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(q.Normalized, p) {
			return true
		}
	}
	return false
}
