package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PromptTemplate is a versioned, parameterized prompt. Templates are
// static configuration: registered once at startup, read-only thereafter.
type PromptTemplate struct {
	// ID identifies the template.
	ID string

	// Version distinguishes revisions of the same template.
	Version string

	// Text is the template body with {param} placeholders.
	Text string

	// Params lists the placeholder names the template expects.
	Params []string
}

// Render substitutes params into the template text. Missing params leave
// their placeholder in place so the gap is visible in provider logs.
func (t PromptTemplate) Render(params map[string]string) string {
	out := t.Text
	for key, value := range params {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// Template identifiers.
const (
	PromptSynthesisPrimary  = "synthesis_primary"
	PromptSynthesisFallback = "synthesis_fallback"
	PromptHistorySummary    = "history_summary"
	PromptReformulate       = "reformulate"
	PromptDualLayerSummary  = "dual_layer_summary"
	PromptAggregationAnswer = "aggregation_answer"
)

// PromptRegistry maps template ids to templates. Process-wide state with
// init-once semantics; no runtime mutation after Freeze.
type PromptRegistry struct {
	mu        sync.RWMutex
	templates map[string]PromptTemplate
	frozen    bool
}

// NewPromptRegistry creates an empty registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{templates: make(map[string]PromptTemplate)}
}

// Register adds a template. Returns an error after Freeze or on a
// duplicate id.
func (r *PromptRegistry) Register(t PromptTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("prompt registry is frozen")
	}
	if _, exists := r.templates[t.ID]; exists {
		return fmt.Errorf("duplicate prompt template: %s", t.ID)
	}
	r.templates[t.ID] = t
	return nil
}

// Freeze makes the registry read-only.
func (r *PromptRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the template for an id.
func (r *PromptRegistry) Lookup(id string) (PromptTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// IDs returns the registered template ids, sorted.
func (r *PromptRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultPrompts returns a frozen registry with the built-in templates.
func DefaultPrompts() *PromptRegistry {
	r := NewPromptRegistry()
	for _, t := range builtinTemplates {
		// Built-in ids are unique by construction.
		_ = r.Register(t)
	}
	r.Freeze()
	return r
}

var builtinTemplates = []PromptTemplate{
	{
		ID:      PromptSynthesisPrimary,
		Version: "v2",
		Params:  []string{"context", "history", "rules", "question"},
		Text: `You are a log-analysis assistant answering questions about system behavior
from structured log evidence.

RULES:
{rules}

CONVERSATION SO FAR:
{history}

LOG EVIDENCE (each block starts with its request id):
{context}

QUESTION: {question}

Respond with ONLY valid JSON in this exact shape:
{"answer": "your answer grounded in the evidence", "confidence": 0.0, "sources": ["request ids you actually cited"]}`,
	},
	{
		ID:      PromptSynthesisFallback,
		Version: "v1",
		Params:  []string{"context", "question"},
		Text: `Answer the question using only the log evidence below. Cite request ids.

EVIDENCE:
{context}

QUESTION: {question}

Respond with ONLY valid JSON: {"answer": "...", "confidence": 0.0, "sources": []}`,
	},
	{
		ID:      PromptHistorySummary,
		Version: "v1",
		Params:  []string{"turns"},
		Text: `Summarize the following question-and-answer exchanges about system log
behavior in at most three sentences. Preserve concrete identifiers
(services, routes, error codes) verbatim.

{turns}`,
	},
	{
		ID:      PromptReformulate,
		Version: "v1",
		Params:  []string{"history", "question"},
		Text: `Rewrite the follow-up question as a standalone question about system
logs, resolving references like "it" or "that error" from the recent
conversation. Return only the rewritten question, nothing else.

RECENT CONVERSATION:
{history}

FOLLOW-UP: {question}`,
	},
	{
		ID:      PromptDualLayerSummary,
		Version: "v1",
		Params:  []string{"event"},
		Text: `Produce a one-sentence summary of this log event followed by a single
line of structured facts in the form "facts: status=<code> latency=<bucket> error=<code-or-none>".

EVENT:
{event}`,
	},
	{
		ID:      PromptAggregationAnswer,
		Version: "v1",
		Params:  []string{"rules", "question", "results"},
		Text: `You are presenting aggregated log metrics.

RULES:
{rules}

QUESTION: {question}

AGGREGATION RESULTS:
{results}

Respond with ONLY valid JSON:
{"answer": "a human-readable answer including a short list or table of the numbers", "confidence": 0.0, "sources": []}`,
	},
}

// SynthesisRules is the fixed rule set passed to synthesis calls.
const SynthesisRules = `- Ground every claim in the supplied evidence; never invent log records.
- Cite the request id of each record that supports a claim.
- If the evidence does not answer the question, say so and lower confidence.
- Keep answers concise and technical.`
