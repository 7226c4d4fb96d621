package llm

import (
	"strings"
	"testing"
)

func TestDefaultPromptsContainsAllTemplates(t *testing.T) {
	r := DefaultPrompts()

	want := []string{
		PromptSynthesisPrimary,
		PromptSynthesisFallback,
		PromptHistorySummary,
		PromptReformulate,
		PromptDualLayerSummary,
		PromptAggregationAnswer,
	}
	for _, id := range want {
		if _, ok := r.Lookup(id); !ok {
			t.Errorf("missing template %q", id)
		}
	}
	if got := len(r.IDs()); got != len(want) {
		t.Errorf("registry has %d templates, want %d", got, len(want))
	}
}

func TestPromptRegistryFrozen(t *testing.T) {
	r := DefaultPrompts()

	err := r.Register(PromptTemplate{ID: "late", Text: "x"})
	if err == nil {
		t.Fatal("expected error registering into frozen registry")
	}
}

func TestPromptRegistryDuplicate(t *testing.T) {
	r := NewPromptRegistry()
	if err := r.Register(PromptTemplate{ID: "a", Text: "x"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(PromptTemplate{ID: "a", Text: "y"}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestPromptRender(t *testing.T) {
	tmpl := PromptTemplate{
		ID:   "t",
		Text: "Q: {question}\nCtx: {context}",
	}

	out := tmpl.Render(map[string]string{
		"question": "why did checkout fail",
		"context":  "evidence",
	})
	if !strings.Contains(out, "why did checkout fail") {
		t.Errorf("question not substituted: %q", out)
	}
	if !strings.Contains(out, "Ctx: evidence") {
		t.Errorf("context not substituted: %q", out)
	}
}

func TestPromptRenderMissingParamKeepsPlaceholder(t *testing.T) {
	tmpl := PromptTemplate{ID: "t", Text: "Q: {question}"}

	out := tmpl.Render(nil)
	if out != "Q: {question}" {
		t.Errorf("expected placeholder preserved, got %q", out)
	}
}
