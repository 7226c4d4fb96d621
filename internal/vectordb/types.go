// Package vectordb provides a wrapper around the Qdrant Go client
// with simplified APIs for log embedding storage and retrieval.
package vectordb

import (
	"time"
)

// CollectionConfig defines the configuration for creating a collection.
type CollectionConfig struct {
	// Name is the collection name (will be prefixed with "logsage_").
	Name string

	// VectorSize is the dimension of the embedding vectors.
	VectorSize uint64

	// OnDiskPayload stores payload on disk to save RAM.
	OnDiskPayload bool

	// IndexingThreshold is the number of vectors before the HNSW index is built.
	IndexingThreshold uint64
}

// DefaultCollectionConfig returns sensible defaults for a log embedding collection.
func DefaultCollectionConfig(name string) CollectionConfig {
	return CollectionConfig{
		Name:              name,
		VectorSize:        1536,
		OnDiskPayload:     true,
		IndexingThreshold: 20000,
	}
}

// Point represents an embedded log summary to upsert.
type Point struct {
	// ID is the unique point identifier (UUID).
	ID string

	// Vector is the summary embedding.
	Vector []float32

	// Payload is the metadata associated with this point.
	Payload PointPayload
}

// PointPayload contains the filterable metadata for an embedded log event.
type PointPayload struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Route         string    `json:"route"`
	StatusCode    int       `json:"status_code"`
	ErrorCode     string    `json:"error_code,omitempty"`
	UserRole      string    `json:"user_role,omitempty"`
	LatencyBucket string    `json:"latency_bucket"`
	Summary       string    `json:"summary"`
	Model         string    `json:"model"`
}

// SearchRequest defines parameters for a vector search.
type SearchRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// Limit is the maximum number of results to return.
	Limit uint64

	// Filter constrains the search to matching events.
	Filter *SearchFilter

	// ScoreThreshold filters results below this score.
	ScoreThreshold *float32
}

// SearchFilter defines filter conditions derived from query metadata.
type SearchFilter struct {
	// Service filters by originating service.
	Service string

	// Route filters by request route.
	Route string

	// ErrorCode filters by application error code.
	ErrorCode string

	// UserRole filters by the acting user's role.
	UserRole string

	// LatencyBuckets filters by latency bucket labels.
	LatencyBuckets []string

	// HasError restricts to events that carry an error code.
	HasError bool

	// Start bounds the event timestamp from below (inclusive).
	Start *time.Time

	// End bounds the event timestamp from above (exclusive).
	End *time.Time
}

// SearchResult represents a single retrieved event.
type SearchResult struct {
	// ID is the point identifier.
	ID string

	// Score is the similarity score.
	Score float32

	// Payload contains the event metadata.
	Payload PointPayload
}

// CollectionInfo contains information about a collection.
type CollectionInfo struct {
	// Name is the collection name (without prefix).
	Name string

	// PointsCount is the total number of points.
	PointsCount uint64

	// Status is the collection health status.
	Status string
}
