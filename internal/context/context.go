// Package context assembles the system prompt from priority-ranked
// sections under a fixed token budget, grounded on
// original_source/core/context.py.
package context

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/rules"
)

// TokenBudget holds the total budget and the fixed per-section ratios
// from spec.md §3.
type TokenBudget struct {
	Total         int
	OutputReserve int
}

const (
	ratioIdentity   = 0.12
	ratioTaskAnchor = 0.04
	ratioExperience = 0.08
	ratioMemory     = 0.15
	ratioHistory    = 0.25
	ratioPrefs      = 0.02
	ratioErrorTrace = 0.03
)

// Available is total minus the output reserve.
func (b TokenBudget) Available() int {
	a := b.Total - b.OutputReserve
	if a < 0 {
		return 0
	}
	return a
}

func (b TokenBudget) IdentityBudget() int   { return int(float64(b.Available()) * ratioIdentity) }
func (b TokenBudget) TaskAnchorBudget() int { return int(float64(b.Available()) * ratioTaskAnchor) }
func (b TokenBudget) ExperienceBudget() int { return int(float64(b.Available()) * ratioExperience) }
func (b TokenBudget) MemoryBudget() int     { return int(float64(b.Available()) * ratioMemory) }
func (b TokenBudget) HistoryBudget() int    { return int(float64(b.Available()) * ratioHistory) }
func (b TokenBudget) PreferencesBudget() int { return int(float64(b.Available()) * ratioPrefs) }
func (b TokenBudget) ErrorTraceBudget() int { return int(float64(b.Available()) * ratioErrorTrace) }

// EstimateTokens is the context engine's coarse estimator: len(text)/2.
func EstimateTokens(text string) int { return len(text) / 2 }

const truncationMarker = " … truncated due to token budget …"

// truncate shortens text to the character length implied by
// maxTokens*2 and appends a visible marker, per spec.md §4.4.
func truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	limit := maxTokens * 2
	if limit > len(text) {
		limit = len(text)
	}
	return text[:limit] + truncationMarker
}

// AssembledContext is the context engine's output, per spec.md §3.
type AssembledContext struct {
	SystemPrompt        string
	ConversationHistory []llm.Message
	TotalTokens         int
	SectionsUsed        []string
	BudgetUsage         map[string]int
}

// UsageRatio reports total/available.
func (a AssembledContext) UsageRatio(budget TokenBudget) float64 {
	avail := budget.Available()
	if avail <= 0 {
		return 0
	}
	return float64(a.TotalTokens) / float64(avail)
}

// NeedsCompaction is true when usage ratio reaches 0.85.
func (a AssembledContext) NeedsCompaction(budget TokenBudget) bool {
	return a.UsageRatio(budget) >= 0.85
}

// Engine assembles context from a rule interpreter and a token budget.
type Engine struct {
	Rules  *rules.Interpreter
	Budget TokenBudget
}

// Assemble builds the system prompt and trims history, per the section
// pipeline in spec.md §4.4. identity is the always-present system
// identity text; taskAnchor is optional pinned context for the current
// task (empty string disables the section).
func (e *Engine) Assemble(userMessage string, history []llm.Message, memories []string, identity, taskAnchor, userPreferences, errorTrace string) AssembledContext {
	usage := map[string]int{}
	var sections []string
	var b strings.Builder

	// 1. Constitution rules + system identity (priority 100), within the identity budget.
	identityBudget := e.Budget.IdentityBudget()
	constText := ""
	constTokens := 0
	if e.Rules != nil {
		constText, constTokens, _, _ = e.Rules.BuildSections(userMessage, identityBudget, 0)
	}
	idText := identity
	if constText != "" {
		idText = strings.TrimRight(idText, "\n") + "\n\n" + constText
	}
	idTokens := EstimateTokens(idText)
	if idTokens > identityBudget && identityBudget > 0 {
		idText = truncate(idText, identityBudget)
		idTokens = EstimateTokens(idText)
	}
	if idText != "" {
		b.WriteString(idText)
		b.WriteString("\n\n")
		usage["identity"] = idTokens + constTokens
		sections = append(sections, "identity")
	}

	// 2. Task anchor (90), truncated to its budget.
	if taskAnchor != "" {
		anchorBudget := e.Budget.TaskAnchorBudget()
		text := truncate(taskAnchor, anchorBudget)
		b.WriteString("## Task\n")
		b.WriteString(text)
		b.WriteString("\n\n")
		usage["task_anchor"] = EstimateTokens(text)
		sections = append(sections, "task_anchor")
	}

	// 3. Experience rules (70), scored against user_message.
	if e.Rules != nil {
		expBudget := e.Budget.ExperienceBudget()
		_, _, expText, expTokens := e.Rules.BuildSections(userMessage, 0, expBudget)
		if strings.TrimSpace(expText) != "## Guidance from Experience" {
			b.WriteString(expText)
			b.WriteString("\n\n")
			usage["experience"] = expTokens
			sections = append(sections, "experience")
		}
	}

	// 4. Retrieved memories (60), joined with "---", titled.
	if len(memories) > 0 {
		memBudget := e.Budget.MemoryBudget()
		joined := strings.Join(memories, "\n---\n")
		text := truncate(joined, memBudget)
		b.WriteString("## Related Memories\n")
		b.WriteString(text)
		b.WriteString("\n\n")
		usage["memory"] = EstimateTokens(text)
		sections = append(sections, "memory")
	}

	// 5. User preferences (50), truncated.
	if userPreferences != "" {
		prefBudget := e.Budget.PreferencesBudget()
		text := truncate(userPreferences, prefBudget)
		b.WriteString("## Preferences\n")
		b.WriteString(text)
		b.WriteString("\n\n")
		usage["preferences"] = EstimateTokens(text)
		sections = append(sections, "preferences")
	}

	// 6. Error-trace notes (40), truncated.
	if errorTrace != "" {
		errBudget := e.Budget.ErrorTraceBudget()
		text := truncate(errorTrace, errBudget)
		b.WriteString("## Recent Errors\n")
		b.WriteString(text)
		b.WriteString("\n")
		usage["error_trace"] = EstimateTokens(text)
		sections = append(sections, "error_trace")
	}

	systemPrompt := strings.TrimRight(b.String(), "\n")

	// History trimming: newest to oldest, stop once the next message
	// would exceed the history budget; return in chronological order.
	historyBudget := e.Budget.HistoryBudget()
	trimmed := trimHistory(history, historyBudget)
	historyTokens := 0
	for _, m := range trimmed {
		historyTokens += EstimateTokens(m.Content)
	}
	usage["history"] = historyTokens
	if len(trimmed) > 0 {
		sections = append(sections, "history")
	}

	total := EstimateTokens(systemPrompt) + historyTokens

	return AssembledContext{
		SystemPrompt:        systemPrompt,
		ConversationHistory: trimmed,
		TotalTokens:         total,
		SectionsUsed:        sections,
		BudgetUsage:         usage,
	}
}

// trimHistory walks from newest to oldest accumulating token estimates;
// once the next message would exceed budget, trimming stops. Returned
// in original chronological order. Never alters message contents.
func trimHistory(history []llm.Message, budget int) []llm.Message {
	if budget <= 0 {
		return nil
	}
	used := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := EstimateTokens(history[i].Content)
		if used+t > budget {
			break
		}
		used += t
		cut = i
	}
	return append([]llm.Message(nil), history[cut:]...)
}

// DebugString renders budget usage for logging/diagnostics.
func (a AssembledContext) DebugString() string {
	var parts []string
	for _, s := range a.SectionsUsed {
		parts = append(parts, fmt.Sprintf("%s=%d", s, a.BudgetUsage[s]))
	}
	return strings.Join(parts, " ")
}
