// Package conversation manages multi-turn context: compressing long
// histories into summary turns and reformulating follow-up questions.
package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/query"
	"github.com/logsage/logsage/internal/session"
)

// SummaryQuestion marks a synthetic turn that stands in for compressed
// history. Consumers can recognize these turns without a separate flag.
const SummaryQuestion = "[conversation summary]"

// summaryConfidence is the fixed confidence assigned to summary turns.
// The summary is derivative of already-scored answers, so it carries a
// flat score rather than inheriting any single turn's.
const summaryConfidence = 0.8

// Summarizer is the slice of the provider surface compression needs.
type Summarizer interface {
	SummarizeHistory(ctx context.Context, turns []string) (string, error)
}

// Compressor bounds conversation history by folding older turns into a
// single synthetic summary turn.
type Compressor struct {
	summarizer Summarizer
	maxTurns   int
	log        *logger.Logger
	now        func() time.Time
}

// NewCompressor creates a compressor that keeps at most maxTurns recent
// turns verbatim. maxTurns below 1 is treated as 1.
func NewCompressor(summarizer Summarizer, maxTurns int, log *logger.Logger) *Compressor {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Compressor{
		summarizer: summarizer,
		maxTurns:   maxTurns,
		log:        log,
		now:        time.Now,
	}
}

// Compress returns the history unchanged when it fits within maxTurns.
// Otherwise it returns maxTurns recent turns preceded by one summary
// turn covering everything older, so the result has maxTurns+1 turns.
// When summarization fails the summary turn still appears, carrying a
// plain count of the folded turns; compression never fails the caller.
func (c *Compressor) Compress(ctx context.Context, history []session.AnalysisResult) []session.AnalysisResult {
	if len(history) <= c.maxTurns {
		return history
	}

	cut := len(history) - c.maxTurns
	older := history[:cut]
	recent := history[cut:]

	summary := c.summarize(ctx, older)

	out := make([]session.AnalysisResult, 0, c.maxTurns+1)
	out = append(out, session.AnalysisResult{
		SessionID:  recent[0].SessionID,
		Question:   SummaryQuestion,
		Intent:     query.IntentUnknown,
		Answer:     summary,
		Sources:    unionSources(older),
		Confidence: summaryConfidence,
		CreatedAt:  c.now(),
	})
	out = append(out, recent...)
	return out
}

func (c *Compressor) summarize(ctx context.Context, older []session.AnalysisResult) string {
	turns := make([]string, 0, len(older))
	for _, t := range older {
		turns = append(turns, fmt.Sprintf("Q: %s\nA: %s", t.Question, t.Answer))
	}

	summary, err := c.summarizer.SummarizeHistory(ctx, turns)
	if err != nil || summary == "" {
		if c.log != nil && err != nil {
			c.log.WithError(err).Warn("history summarization failed, using placeholder")
		}
		return fmt.Sprintf("Summary of %d earlier interactions in this session.", len(older))
	}
	return summary
}

// unionSources merges the sources of the folded turns, deduplicated,
// preserving first-seen order.
func unionSources(turns []session.AnalysisResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range turns {
		for _, s := range t.Sources {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
