// Package llm provides the model-provider ports consumed by the engine:
// embedding, reranking, and answer synthesis. Providers are opaque
// external services reached over HTTP; the engine depends only on the
// interfaces in this file.
package llm

import "context"

// EmbeddingResult is one embedding vector with provenance.
// Never mutated after creation.
type EmbeddingResult struct {
	// Vector is the dense embedding.
	Vector []float32 `json:"vector"`

	// Model is the model identifier that produced the vector.
	Model string `json:"model"`

	// Tokens is the provider-reported token usage.
	Tokens int `json:"tokens"`
}

// Embedder generates dense embeddings from text.
type Embedder interface {
	// CreateEmbedding embeds a single text.
	CreateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error)

	// CreateBatchEmbeddings embeds texts in one provider call, preserving
	// input order.
	CreateBatchEmbeddings(ctx context.Context, texts []string) ([]EmbeddingResult, error)
}

// RankedResult references an input document by index with its relevance
// score, best first.
type RankedResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Reranker reorders candidate documents by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedResult, error)
}

// Synthesis is the structured result of an answer-synthesis call.
type Synthesis struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`

	// Confidence is the model-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Sources are the request ids the model actually cited.
	Sources []string `json:"sources"`
}

// Synthesizer produces grounded answers and auxiliary rewrites.
type Synthesizer interface {
	// Synthesize generates an answer from grounded context blocks, the
	// compressed conversation history, a rule set, and the question. Falls
	// back to the registered fallback prompt when the primary template is
	// unavailable.
	Synthesize(ctx context.Context, contextBlocks, history []string, rules, question string) (*Synthesis, error)

	// SummarizeHistory condenses prior conversation turns into one
	// natural-language summary.
	SummarizeHistory(ctx context.Context, turns []string) (string, error)

	// Reformulate rewrites a follow-up question into a standalone query
	// using recent history.
	Reformulate(ctx context.Context, question string, history []string) (string, error)

	// Complete runs a bare prompt and returns the raw completion text.
	Complete(ctx context.Context, prompt string) (string, error)
}
