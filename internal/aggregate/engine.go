package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/logsage/logsage/internal/llm"
	"github.com/logsage/logsage/internal/logstore"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
	"github.com/logsage/logsage/internal/query"
)

// Completer is the slice of the provider surface narration needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Result is a computed statistical answer.
type Result struct {
	// TemplateID names the template that served the question.
	TemplateID string `json:"template_id"`

	// Answer is the human-readable rendering of the rows.
	Answer string `json:"answer"`

	// Rows are the raw aggregation rows backing the answer.
	Rows []logstore.Row `json:"rows"`

	// Confidence reflects template fit and sample size, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Engine selects a metric template for a statistical question, runs its
// pipeline, and presents the rows as an answer. The provider narrates
// the numbers; the numbers themselves are always computed in storage, so
// a provider outage degrades wording, never correctness.
type Engine struct {
	storage   logstore.Storage
	completer Completer
	prompts   *llm.PromptRegistry
	templates []Template
	log       *logger.Logger
}

// NewEngine creates an engine over the given storage with the default
// templates. A nil completer yields deterministic answers only.
func NewEngine(storage logstore.Storage, completer Completer, prompts *llm.PromptRegistry, log *logger.Logger) *Engine {
	if prompts == nil {
		prompts = llm.DefaultPrompts()
	}
	return &Engine{
		storage:   storage,
		completer: completer,
		prompts:   prompts,
		templates: DefaultTemplates(),
		log:       log,
	}
}

// Answer serves a statistical question. When no template matches, it
// returns an AGGREGATION_UNSATISFIABLE error rather than guessing; the
// caller decides whether to degrade to semantic retrieval.
func (e *Engine) Answer(ctx context.Context, q *query.Parsed) (*Result, error) {
	tmpl := e.selectTemplate(q)
	if tmpl == nil {
		return nil, apperrors.AggregationUnsatisfiableError(
			fmt.Sprintf("no metric template matches %q", q.Original))
	}

	pipeline := tmpl.Build(q)
	rows, err := e.storage.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	if e.log != nil {
		e.log.Debug("aggregation served",
			"template", tmpl.ID,
			"rows", len(rows))
	}

	res := &Result{
		TemplateID: tmpl.ID,
		Answer:     renderRows(tmpl, pipeline, rows),
		Rows:       rows,
		Confidence: scoreConfidence(q, rows),
	}
	if len(rows) > 0 {
		if narrated := e.narrate(ctx, q, rows); narrated != "" {
			res.Answer = narrated
		}
	}
	return res, nil
}

// narrate asks the provider to present the rows; empty on failure, in
// which case the caller keeps the deterministic rendering. Confidence
// stays evidence-based either way.
func (e *Engine) narrate(ctx context.Context, q *query.Parsed, rows []logstore.Row) string {
	if e.completer == nil {
		return ""
	}

	encoded, err := json.Marshal(rows)
	if err != nil {
		return ""
	}

	tmpl, _ := e.prompts.Lookup(llm.PromptAggregationAnswer)
	out, err := e.completer.Complete(ctx, tmpl.Render(map[string]string{
		"rules":    llm.SynthesisRules,
		"question": q.Original,
		"results":  string(encoded),
	}))
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Warn("aggregation narration failed, using deterministic answer")
		}
		return ""
	}

	s, err := llm.ParseSynthesis(out)
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Warn("aggregation narration unparseable, using deterministic answer")
		}
		return ""
	}
	return s.Answer
}

func (e *Engine) selectTemplate(q *query.Parsed) *Template {
	for i := range e.templates {
		if e.templates[i].Matches(q) {
			return &e.templates[i]
		}
	}
	return nil
}

// scoreConfidence reflects parse quality and evidence volume. An empty
// result set is still a valid zero answer, just a less confident one.
func scoreConfidence(q *query.Parsed, rows []logstore.Row) float64 {
	if len(rows) == 0 {
		return 0.4
	}

	conf := 0.6
	if q.Confidence >= 0.7 {
		conf += 0.1
	}

	var samples float64
	for _, r := range rows {
		for _, v := range r.Values {
			samples += v
			break
		}
	}
	if samples >= 10 {
		conf += 0.1
	}
	if samples >= 100 {
		conf += 0.1
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// renderRows produces a compact human-readable answer from the rows.
func renderRows(tmpl *Template, p logstore.Pipeline, rows []logstore.Row) string {
	if len(rows) == 0 {
		return fmt.Sprintf("No matching events found for %s%s.", tmpl.Description, renderWindow(p.Match))
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(tmpl.Description[:1]))
	sb.WriteString(tmpl.Description[1:])
	sb.WriteString(renderWindow(p.Match))
	sb.WriteString(":\n")

	for _, r := range rows {
		sb.WriteString("- ")
		if len(r.Keys) > 0 {
			keys := make([]string, 0, len(r.Keys))
			for _, g := range p.GroupBy {
				if v := r.Keys[g]; v != "" {
					keys = append(keys, v)
				} else {
					keys = append(keys, "(none)")
				}
			}
			sb.WriteString(strings.Join(keys, " / "))
			sb.WriteString(": ")
		}
		sb.WriteString(renderValues(p.Metrics, r.Values))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderValues(metrics []logstore.Metric, values map[string]float64) string {
	parts := make([]string, 0, len(values))
	for _, m := range metrics {
		if v, ok := values[m.Name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", m.Name, formatNumber(v)))
		}
	}
	return strings.Join(parts, ", ")
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func renderWindow(m logstore.Match) string {
	switch {
	case m.Start != nil && m.End != nil:
		return fmt.Sprintf(" between %s and %s",
			m.Start.Format("2006-01-02 15:04 MST"), m.End.Format("2006-01-02 15:04 MST"))
	case m.Start != nil:
		return " since " + m.Start.Format("2006-01-02 15:04 MST")
	case m.End != nil:
		return " before " + m.End.Format("2006-01-02 15:04 MST")
	default:
		return ""
	}
}
