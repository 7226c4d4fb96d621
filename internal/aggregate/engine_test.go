package aggregate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/logsage/logsage/internal/event"
	"github.com/logsage/logsage/internal/logstore"
	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/query"
)

func ms(v int64) *int64 { return &v }

func seededEngine(t *testing.T) *Engine {
	t.Helper()
	store := logstore.NewMemoryStore()
	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	events := []event.WideEvent{
		{RequestID: "req-1", Timestamp: base, Service: "payment", StatusCode: 500, DurationMS: ms(1200), ErrorCode: "CARD_DECLINED", UserRole: "premium"},
		{RequestID: "req-2", Timestamp: base, Service: "payment", StatusCode: 500, DurationMS: ms(900), ErrorCode: "CARD_DECLINED", UserRole: "premium"},
		{RequestID: "req-3", Timestamp: base, Service: "payment", StatusCode: 502, DurationMS: ms(3000), ErrorCode: "GATEWAY_ERROR", UserRole: "free"},
		{RequestID: "req-4", Timestamp: base, Service: "auth", StatusCode: 200, DurationMS: ms(45)},
		{RequestID: "req-5", Timestamp: base, Service: "auth", StatusCode: 200, DurationMS: ms(60)},
	}
	if _, err := store.InsertEvents(context.Background(), events); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewEngine(store, nil, nil, nil)
}

func parsed(original string, md query.Metadata) *query.Parsed {
	return &query.Parsed{
		Original:   original,
		Normalized: strings.ToLower(original),
		Intent:     query.IntentStatistical,
		Metadata:   md,
		Confidence: 0.8,
	}
}

func TestEngineErrorCountByService(t *testing.T) {
	e := seededEngine(t)

	res, err := e.Answer(context.Background(), parsed(
		"how many errors occurred per service", query.Metadata{HasError: true}))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.TemplateID != "error_count" {
		t.Errorf("template = %s", res.TemplateID)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %+v", res.Rows)
	}
	if res.Rows[0].Keys["service"] != "payment" || res.Rows[0].Values["errors"] != 3 {
		t.Errorf("row = %+v", res.Rows[0])
	}
	if !strings.Contains(res.Answer, "payment") {
		t.Errorf("answer missing service name: %q", res.Answer)
	}
}

func TestEngineTopErrorCodes(t *testing.T) {
	e := seededEngine(t)

	res, err := e.Answer(context.Background(), parsed(
		"what are the top errors", query.Metadata{HasError: true}))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.TemplateID != "top_error_codes" {
		t.Errorf("template = %s", res.TemplateID)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %+v", res.Rows)
	}
	if res.Rows[0].Keys["error_code"] != "CARD_DECLINED" {
		t.Errorf("top code = %+v", res.Rows[0])
	}
}

func TestEngineLatencyPercentiles(t *testing.T) {
	e := seededEngine(t)

	q := parsed("what is the p95 latency for payment", query.Metadata{Service: "payment"})
	q.LatencyTerms = []string{"latency"}

	res, err := e.Answer(context.Background(), q)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.TemplateID != "latency_percentiles" {
		t.Errorf("template = %s", res.TemplateID)
	}
	p95 := res.Rows[0].Values["p95_ms"]
	if p95 < 900 || p95 > 3000 {
		t.Errorf("p95 = %v out of expected range", p95)
	}
}

func TestEngineRoleScopedErrors(t *testing.T) {
	e := seededEngine(t)

	res, err := e.Answer(context.Background(), parsed(
		"how many payment failures for premium users",
		query.Metadata{HasError: true, UserRole: "premium", Service: "payment"}))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Rows[0].Values["errors"] != 2 {
		t.Errorf("errors = %v, want 2", res.Rows[0].Values["errors"])
	}
}

func TestEngineUnsatisfiable(t *testing.T) {
	e := seededEngine(t)

	_, err := e.Answer(context.Background(), parsed(
		"tell me about the system", query.Metadata{}))
	if !apperrors.IsCode(err, apperrors.CodeAggregation) {
		t.Fatalf("expected AGGREGATION_UNSATISFIABLE, got %v", err)
	}
}

type fakeCompleter struct {
	out        string
	err        error
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.out, f.err
}

func narratedEngine(t *testing.T, completer *fakeCompleter) *Engine {
	t.Helper()
	e := seededEngine(t)
	e.completer = completer
	return e
}

func TestEngineNarratesRowsThroughProvider(t *testing.T) {
	completer := &fakeCompleter{
		out: `{"answer": "payment produced 3 errors", "confidence": 0.9, "sources": []}`,
	}
	e := narratedEngine(t, completer)

	res, err := e.Answer(context.Background(), parsed(
		"how many errors occurred per service", query.Metadata{HasError: true}))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Answer != "payment produced 3 errors" {
		t.Errorf("answer = %q, want provider narration", res.Answer)
	}

	// The prompt carries the question and the structured rows.
	for _, want := range []string{"how many errors occurred per service", `"service":"payment"`, "AGGREGATION RESULTS"} {
		if !strings.Contains(completer.lastPrompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, completer.lastPrompt)
		}
	}
	if strings.Contains(completer.lastPrompt, "{results}") {
		t.Errorf("results placeholder left unrendered")
	}

	// Numbers and confidence stay computed from the rows.
	if res.Rows[0].Values["errors"] != 3 {
		t.Errorf("rows = %+v", res.Rows)
	}
	if res.Confidence < 0.6 {
		t.Errorf("confidence = %v", res.Confidence)
	}
}

func TestEngineProviderFailureFallsBackToDeterministicAnswer(t *testing.T) {
	for name, completer := range map[string]*fakeCompleter{
		"error":       {err: context.DeadlineExceeded},
		"unparseable": {out: "I cannot help with that"},
	} {
		t.Run(name, func(t *testing.T) {
			e := narratedEngine(t, completer)

			res, err := e.Answer(context.Background(), parsed(
				"how many errors occurred per service", query.Metadata{HasError: true}))
			if err != nil {
				t.Fatalf("Answer: %v", err)
			}
			if !strings.Contains(res.Answer, "payment") || !strings.Contains(res.Answer, "errors=3") {
				t.Errorf("fallback answer = %q", res.Answer)
			}
		})
	}
}

func TestEngineEmptyResultIsValidZeroAnswer(t *testing.T) {
	e := seededEngine(t)

	res, err := e.Answer(context.Background(), parsed(
		"how many errors in billing-service",
		query.Metadata{HasError: true, Service: "billing"}))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("rows = %+v", res.Rows)
	}
	if !strings.Contains(res.Answer, "No matching events") {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Confidence >= 0.6 {
		t.Errorf("empty result confidence = %v, want reduced", res.Confidence)
	}
}
