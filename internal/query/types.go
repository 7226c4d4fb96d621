// Package query provides query understanding and metadata extraction for
// natural-language questions about log behavior.
package query

import "time"

// Intent represents the high-level kind of question being asked.
type Intent string

const (
	// IntentStatistical - the question requires aggregation over log records.
	IntentStatistical Intent = "STATISTICAL"

	// IntentSemantic - the question requires retrieval plus synthesis.
	IntentSemantic Intent = "SEMANTIC"

	// IntentUnknown - intent cannot be determined.
	IntentUnknown Intent = "UNKNOWN"
)

// Metadata is the structured filter intent extracted from a question.
// All fields are optional; absence means the question did not constrain
// that dimension. Derived per query, never persisted.
type Metadata struct {
	// Start is the inclusive lower bound of the requested time range.
	Start *time.Time `json:"start,omitempty"`

	// End is the exclusive upper bound of the requested time range.
	End *time.Time `json:"end,omitempty"`

	// Service is the service name mentioned in the question.
	Service string `json:"service,omitempty"`

	// Route is the route path mentioned in the question.
	Route string `json:"route,omitempty"`

	// ErrorCode is an explicit error code mentioned in the question.
	ErrorCode string `json:"error_code,omitempty"`

	// HasError is true when the question is about failures.
	HasError bool `json:"has_error"`

	// UserRole is the user-role keyword found, if any.
	UserRole string `json:"user_role,omitempty"`
}

// Parsed is the full result of query understanding.
type Parsed struct {
	// Original is the raw user question.
	Original string `json:"original"`

	// Normalized is the cleaned/standardized question.
	Normalized string `json:"normalized"`

	// Intent is the detected question kind.
	Intent Intent `json:"intent"`

	// Metadata is the extracted filter intent.
	Metadata Metadata `json:"metadata"`

	// Keywords are the extracted important terms.
	Keywords []string `json:"keywords"`

	// LatencyTerms are the latency-vocabulary terms found.
	LatencyTerms []string `json:"latency_terms,omitempty"`

	// RoleTerms are the user-role-vocabulary terms found.
	RoleTerms []string `json:"role_terms,omitempty"`

	// Confidence is how confident the extractor is in the parse (0-1).
	Confidence float64 `json:"confidence"`
}
