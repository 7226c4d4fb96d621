// Package event defines the wide-event data model shared across the engine.
//
// A wide event is one structured record capturing the full context of a
// request (identity, route, error, performance, metadata) as a single unit.
// It is the unit of retrieval and analysis.
package event

import "time"

// WideEvent is one structured log record.
type WideEvent struct {
	// RequestID uniquely identifies the request this event describes.
	RequestID string `json:"request_id"`

	// Timestamp is when the request completed.
	Timestamp time.Time `json:"timestamp"`

	// Service is the emitting service name.
	Service string `json:"service"`

	// Route is the matched route pattern (e.g. "/v1/payments/:id").
	Route string `json:"route,omitempty"`

	// Method is the HTTP method, if applicable.
	Method string `json:"method,omitempty"`

	// StatusCode is the response status code.
	StatusCode int `json:"status_code,omitempty"`

	// DurationMS is the request duration in milliseconds; nil when unknown.
	DurationMS *int64 `json:"duration_ms,omitempty"`

	// ErrorCode is a machine-readable error identifier, empty on success.
	ErrorCode string `json:"error_code,omitempty"`

	// ErrorMessage is the human-readable error text, empty on success.
	ErrorMessage string `json:"error_message,omitempty"`

	// UserID identifies the requesting user, if known.
	UserID string `json:"user_id,omitempty"`

	// UserRole is the requesting user's role (e.g. "premium", "free").
	UserRole string `json:"user_role,omitempty"`

	// Metadata carries any additional context captured with the request.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasError reports whether the event records a failure.
func (e *WideEvent) HasError() bool {
	return e.ErrorCode != "" || e.StatusCode >= 500
}

// Duration returns the event duration, or false when unknown.
func (e *WideEvent) Duration() (time.Duration, bool) {
	if e.DurationMS == nil {
		return 0, false
	}
	return time.Duration(*e.DurationMS) * time.Millisecond, true
}

// EmbeddingStatus tracks the embedding lifecycle of a log record.
type EmbeddingStatus string

const (
	// EmbeddingPending - the log is eligible for embedding but not yet processed.
	EmbeddingPending EmbeddingStatus = "pending"

	// EmbeddingEmbedded - a vector has been generated and persisted.
	EmbeddingEmbedded EmbeddingStatus = "embedded"

	// EmbeddingFailed - embedding failed with an unrecoverable error.
	EmbeddingFailed EmbeddingStatus = "failed"
)

// LogEmbedding is the embedding-pipeline state for one log record.
// Status moves pending -> embedded on success and pending -> failed on
// unrecoverable error; it never transitions backward automatically.
type LogEmbedding struct {
	// ID is the internal storage identifier.
	ID string `json:"id"`

	// RequestID links back to the source wide event.
	RequestID string `json:"request_id"`

	// Timestamp is the source event timestamp.
	Timestamp time.Time `json:"timestamp"`

	// Summary is the dual-layer summary text used for embedding.
	Summary string `json:"summary"`

	// Status is the current embedding lifecycle state.
	Status EmbeddingStatus `json:"status"`

	// Service is the source service name.
	Service string `json:"service,omitempty"`

	// Model is the embedding model that produced the vector.
	Model string `json:"model,omitempty"`

	// Vector is the embedding, present once Status is embedded.
	Vector []float32 `json:"vector,omitempty"`

	// Source is the full source event, when loaded.
	Source *WideEvent `json:"source,omitempty"`
}

// ReadyForEmbedding reports whether the record can be embedded as-is.
func (l *LogEmbedding) ReadyForEmbedding() bool {
	return l.Status == EmbeddingPending && l.Summary != ""
}
