// Package summarize produces the dual-layer summaries that embedding and
// retrieval operate on: one natural-language sentence for semantic
// similarity plus a structured fact line for exact matching.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/pkg/logger"
)

// Completer is the slice of the provider surface enrichment needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Enricher builds summaries for wide events. The provider adds the
// narrative layer; the fact layer is always computed deterministically
// so a provider outage degrades wording, never correctness.
type Enricher struct {
	completer  Completer
	prompts    *llm.PromptRegistry
	thresholds event.LatencyThresholds
	log        *logger.Logger
}

// NewEnricher creates an enricher. A nil completer yields deterministic
// summaries only.
func NewEnricher(completer Completer, prompts *llm.PromptRegistry, thresholds event.LatencyThresholds, log *logger.Logger) *Enricher {
	if prompts == nil {
		prompts = llm.DefaultPrompts()
	}
	if !thresholds.Valid() {
		thresholds = event.DefaultLatencyThresholds()
	}
	return &Enricher{
		completer:  completer,
		prompts:    prompts,
		thresholds: thresholds,
		log:        log,
	}
}

// Summarize returns the dual-layer summary for an event: a sentence
// followed by a "facts:" line.
func (e *Enricher) Summarize(ctx context.Context, we *event.WideEvent) string {
	sentence := e.narrative(ctx, we)
	if sentence == "" {
		sentence = deterministicSentence(we)
	}
	return sentence + "\n" + factLine(we, e.thresholds)
}

// narrative asks the provider for the sentence layer; empty on failure.
func (e *Enricher) narrative(ctx context.Context, we *event.WideEvent) string {
	if e.completer == nil {
		return ""
	}

	encoded, err := json.Marshal(we)
	if err != nil {
		return ""
	}

	tmpl, _ := e.prompts.Lookup(llm.PromptDualLayerSummary)
	out, err := e.completer.Complete(ctx, tmpl.Render(map[string]string{
		"event": string(encoded),
	}))
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Warn("summary enrichment failed, using deterministic summary",
				"request_id", we.RequestID)
		}
		return ""
	}

	// The provider may echo its own fact line; keep only the sentence.
	out = strings.TrimSpace(out)
	if i := strings.Index(strings.ToLower(out), "\nfacts:"); i >= 0 {
		out = strings.TrimSpace(out[:i])
	}
	if out == "" || len(out) > 500 {
		return ""
	}
	return out
}

// deterministicSentence renders the event without a provider.
func deterministicSentence(we *event.WideEvent) string {
	var sb strings.Builder

	method := we.Method
	if method == "" {
		method = "request"
	}
	fmt.Fprintf(&sb, "%s %s on %s", method, we.Route, we.Service)

	if we.HasError() {
		if we.ErrorMessage != "" {
			fmt.Fprintf(&sb, " failed: %s", we.ErrorMessage)
		} else if we.ErrorCode != "" {
			fmt.Fprintf(&sb, " failed with %s", we.ErrorCode)
		} else {
			fmt.Fprintf(&sb, " failed with status %d", we.StatusCode)
		}
	} else {
		sb.WriteString(" completed")
	}

	if d, ok := we.Duration(); ok {
		fmt.Fprintf(&sb, " in %dms", d.Milliseconds())
	}
	if we.UserRole != "" {
		fmt.Fprintf(&sb, " for a %s user", we.UserRole)
	}
	sb.WriteString(".")
	return sb.String()
}

// factLine renders the structured layer. Stable field order so exact-match
// retrieval over these tokens behaves predictably.
func factLine(we *event.WideEvent, thresholds event.LatencyThresholds) string {
	errCode := we.ErrorCode
	if errCode == "" {
		errCode = "none"
	}

	var bucket event.LatencyBucket
	if d, ok := we.Duration(); ok {
		bucket = event.ClassifyLatencyWith(thresholds, &d)
	} else {
		bucket = event.ClassifyLatencyWith(thresholds, nil)
	}

	parts := []string{
		fmt.Sprintf("service=%s", we.Service),
		fmt.Sprintf("route=%s", we.Route),
		fmt.Sprintf("status=%d", we.StatusCode),
		fmt.Sprintf("latency=%s", bucket),
		fmt.Sprintf("error=%s", errCode),
	}
	if we.UserRole != "" {
		parts = append(parts, fmt.Sprintf("role=%s", we.UserRole))
	}
	return "facts: " + strings.Join(parts, " ")
}

// LatencyBucketFor exposes the enricher's bucket classification for
// indexing alongside the summary.
func (e *Enricher) LatencyBucketFor(we *event.WideEvent) event.LatencyBucket {
	if d, ok := we.Duration(); ok {
		return event.ClassifyLatencyWith(e.thresholds, &d)
	}
	return event.BucketUnknown
}
