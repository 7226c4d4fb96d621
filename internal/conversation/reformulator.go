package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/session"
)

// Rewriter is the slice of the provider surface reformulation needs.
type Rewriter interface {
	Reformulate(ctx context.Context, question string, history []string) (string, error)
}

// Reformulator turns follow-up questions into standalone ones using
// recent turns. It is best-effort: any failure yields the original
// question unchanged so a flaky provider never blocks answering.
type Reformulator struct {
	rewriter     Rewriter
	historyTurns int
	log          *logger.Logger
}

// NewReformulator creates a reformulator that feeds up to historyTurns
// recent turns to the rewriter.
func NewReformulator(rewriter Rewriter, historyTurns int, log *logger.Logger) *Reformulator {
	if historyTurns < 1 {
		historyTurns = 3
	}
	return &Reformulator{
		rewriter:     rewriter,
		historyTurns: historyTurns,
		log:          log,
	}
}

// Reformulate rewrites question against the session history. With no
// history there is nothing to resolve and the question passes through.
func (r *Reformulator) Reformulate(ctx context.Context, question string, history []session.AnalysisResult) string {
	if len(history) == 0 {
		return question
	}

	start := len(history) - r.historyTurns
	if start < 0 {
		start = 0
	}
	turns := make([]string, 0, r.historyTurns)
	for _, t := range history[start:] {
		turns = append(turns, fmt.Sprintf("Q: %s\nA: %s", t.Question, t.Answer))
	}

	rewritten, err := r.rewriter.Reformulate(ctx, question, turns)
	if err != nil {
		if r.log != nil {
			r.log.WithError(err).Warn("query reformulation failed, using original question")
		}
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	return rewritten
}
