package context

import (
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
)

func TestTokenBudget_Available(t *testing.T) {
	b := TokenBudget{Total: 1000, OutputReserve: 200}
	if got := b.Available(); got != 800 {
		t.Errorf("Available = %d, want 800", got)
	}
	neg := TokenBudget{Total: 100, OutputReserve: 500}
	if got := neg.Available(); got != 0 {
		t.Errorf("Available with reserve exceeding total = %d, want 0", got)
	}
}

func TestAssembledContext_NeedsCompaction(t *testing.T) {
	budget := TokenBudget{Total: 1000, OutputReserve: 0}
	tests := []struct {
		name  string
		total int
		want  bool
	}{
		{"below threshold", 800, false},
		{"exactly at threshold", 850, true},
		{"above threshold", 900, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := AssembledContext{TotalTokens: tt.total}
			if got := a.NeedsCompaction(budget); got != tt.want {
				t.Errorf("NeedsCompaction(total=%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestAssemble_IncludesIdentityAndTaskAnchor(t *testing.T) {
	e := &Engine{Budget: TokenBudget{Total: 10000, OutputReserve: 0}}
	out := e.Assemble("hello", nil, nil, "You are a helpful agent.", "fix the bug", "", "")

	if !contains(out.SystemPrompt, "You are a helpful agent.") {
		t.Errorf("SystemPrompt missing identity text: %q", out.SystemPrompt)
	}
	if !contains(out.SystemPrompt, "fix the bug") {
		t.Errorf("SystemPrompt missing task anchor: %q", out.SystemPrompt)
	}
	if !containsString(out.SectionsUsed, "identity") {
		t.Errorf("SectionsUsed = %v, want identity present", out.SectionsUsed)
	}
	if !containsString(out.SectionsUsed, "task_anchor") {
		t.Errorf("SectionsUsed = %v, want task_anchor present", out.SectionsUsed)
	}
}

func TestAssemble_NoTaskAnchorOmitsSection(t *testing.T) {
	e := &Engine{Budget: TokenBudget{Total: 10000, OutputReserve: 0}}
	out := e.Assemble("hello", nil, nil, "identity text", "", "", "")
	if containsString(out.SectionsUsed, "task_anchor") {
		t.Errorf("SectionsUsed = %v, want no task_anchor when empty", out.SectionsUsed)
	}
}

func TestTrimHistory_KeepsNewestWithinBudget(t *testing.T) {
	history := []llm.Message{
		{Role: "user", Content: "first message, quite long content here to burn tokens"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	trimmed := trimHistory(history, 3) // tiny budget, only newest messages fit

	if len(trimmed) == 0 {
		t.Fatal("trimHistory returned nothing")
	}
	if trimmed[len(trimmed)-1].Content != "third" {
		t.Errorf("last trimmed message = %q, want the newest message present", trimmed[len(trimmed)-1].Content)
	}
	// Order must remain chronological.
	for i := 1; i < len(trimmed); i++ {
		if trimmed[i-1].Content == trimmed[i].Content {
			t.Errorf("unexpected duplicate adjacent messages in %+v", trimmed)
		}
	}
}

func TestTrimHistory_ZeroBudgetReturnsNil(t *testing.T) {
	history := []llm.Message{{Role: "user", Content: "hi"}}
	if got := trimHistory(history, 0); got != nil {
		t.Errorf("trimHistory with zero budget = %+v, want nil", got)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
