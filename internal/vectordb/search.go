package vectordb

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// Search performs a dense vector search with optional metadata filtering.
func (c *Client) Search(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.Limit
	if limit == 0 {
		limit = 20
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: collectionName(collection),
		Query:          qdrant.NewQueryDense(req.Vector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if req.Filter != nil {
		queryPoints.Filter = buildSearchFilter(req.Filter)
	}

	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	return scoredPointsToResults(results), nil
}

// keywordCondition builds an exact-match condition on a keyword field.
func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{
						Keyword: value,
					},
				},
			},
		},
	}
}

// buildSearchFilter builds a Qdrant filter from SearchFilter.
func buildSearchFilter(f *SearchFilter) *qdrant.Filter {
	if f == nil {
		return nil
	}

	var conditions []*qdrant.Condition

	if f.Service != "" {
		conditions = append(conditions, keywordCondition("service", f.Service))
	}
	if f.Route != "" {
		conditions = append(conditions, keywordCondition("route", f.Route))
	}
	if f.ErrorCode != "" {
		conditions = append(conditions, keywordCondition("error_code", f.ErrorCode))
	}
	if f.UserRole != "" {
		conditions = append(conditions, keywordCondition("user_role", f.UserRole))
	}

	if len(f.LatencyBuckets) > 0 {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "latency_bucket",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{
								Strings: f.LatencyBuckets,
							},
						},
					},
				},
			},
		})
	}

	// HasError without a specific code matches any non-empty error_code.
	if f.HasError && f.ErrorCode == "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "error_code",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_ExceptKeywords{
							ExceptKeywords: &qdrant.RepeatedStrings{Strings: []string{""}},
						},
					},
				},
			},
		})
	}

	if f.Start != nil || f.End != nil {
		rng := &qdrant.Range{}
		if f.Start != nil {
			rng.Gte = qdrant.PtrOf(float64(f.Start.Unix()))
		}
		if f.End != nil {
			rng.Lt = qdrant.PtrOf(float64(f.End.Unix()))
		}
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "timestamp_unix",
					Range: rng,
				},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// scoredPointsToResults converts Qdrant scored points to SearchResults.
func scoredPointsToResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))

	for _, p := range points {
		result := SearchResult{
			Score:   p.Score,
			Payload: extractPayload(p.Payload),
		}
		switch v := p.Id.PointIdOptions.(type) {
		case *qdrant.PointId_Uuid:
			result.ID = v.Uuid
		case *qdrant.PointId_Num:
			result.ID = fmt.Sprintf("%d", v.Num)
		}
		results = append(results, result)
	}

	return results
}

// extractPayload extracts PointPayload from a Qdrant payload map.
func extractPayload(payload map[string]*qdrant.Value) PointPayload {
	result := PointPayload{
		RequestID:     getStringValue(payload, "request_id"),
		Service:       getStringValue(payload, "service"),
		Route:         getStringValue(payload, "route"),
		StatusCode:    getIntValue(payload, "status_code"),
		ErrorCode:     getStringValue(payload, "error_code"),
		UserRole:      getStringValue(payload, "user_role"),
		LatencyBucket: getStringValue(payload, "latency_bucket"),
		Summary:       getStringValue(payload, "summary"),
		Model:         getStringValue(payload, "model"),
	}

	if v := getStringValue(payload, "timestamp"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			result.Timestamp = t
		}
	}

	return result
}

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return int(iv.IntegerValue)
		}
	}
	return 0
}
