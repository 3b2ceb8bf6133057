// Package observer produces per-task light observations and scheduled
// deep analyses, grounded on
// original_source/extensions/observer/{engine,scheduler}.py.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/jsonx"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/reflection"
	"github.com/nextlevelbuilder/goclaw/internal/signals"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// LightObservation is the one-line per-task log record, per spec.md §3.
type LightObservation struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Outcome   string    `json:"outcome"`
	Tokens    int       `json:"tokens"`
	Model     string    `json:"model"`
	Signals   []string  `json:"signals,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	Note      string    `json:"note"` // <= 100 chars
}

// TaskInput is the data lightweight_observe needs.
type TaskInput struct {
	TaskID       string
	Tokens       int
	Model        string
	Signals      []string
	UserFeedback string
}

const maxNoteLen = 100

// Engine produces light and deep observations.
type Engine struct {
	w           *store.Workspace
	lightModel  *llm.Gateway
	deepModel   *llm.Gateway
	sigStore    *signals.Store
}

func NewEngine(w *store.Workspace, lightModel, deepModel *llm.Gateway, sigStore *signals.Store) *Engine {
	return &Engine{w: w, lightModel: lightModel, deepModel: deepModel, sigStore: sigStore}
}

// LightweightObserve asks the light-tier LLM for a <=100 char note; on
// empty or failure substitutes "normal". Outcome/error type derive
// from the reflection if present, else from user feedback presence.
func (e *Engine) LightweightObserve(ctx context.Context, task TaskInput, refl *reflection.Reflection) LightObservation {
	note := "normal"
	if e.lightModel != nil {
		prompt := fmt.Sprintf("In <=100 characters, note anything noteworthy about this task (tokens=%d, model=%s). Reply with just the note.", task.Tokens, task.Model)
		if resp, err := e.lightModel.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 64}); err == nil && resp != nil {
			trimmed := strings.TrimSpace(resp.Content)
			if trimmed != "" {
				if len(trimmed) > maxNoteLen {
					trimmed = trimmed[:maxNoteLen]
				}
				note = trimmed
			}
		}
	}

	outcome := "SUCCESS"
	errorType := ""
	if refl != nil {
		outcome = string(refl.Outcome)
		if refl.Type == reflection.TypeError {
			errorType = string(refl.RootCause)
		}
	} else if task.UserFeedback != "" {
		outcome = "PARTIAL"
	}

	obs := LightObservation{
		Timestamp: time.Now().UTC(),
		TaskID:    task.TaskID,
		Outcome:   outcome,
		Tokens:    task.Tokens,
		Model:     task.Model,
		Signals:   task.Signals,
		ErrorType: errorType,
		Note:      note,
	}

	rel := fmt.Sprintf("observations/light_logs/%s.jsonl", obs.Timestamp.Format("2006-01-02"))
	_ = store.AppendJSONL(e.w, rel, obs) // best-effort, matching the post-task pipeline's failure-isolation contract
	return obs
}

// Finding is one item in a DeepReport, priority-ordered by Type.
type Finding struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // error_pattern, efficiency, skill_gap, preference
	Priority string `json:"priority,omitempty"`
	Summary  string `json:"summary"`
}

var findingTypePriority = map[string]int{
	"error_pattern": 0,
	"efficiency":    1,
	"skill_gap":     2,
	"preference":    3,
}

// DeepReport is the deep-analysis output, per spec.md §3.
type DeepReport struct {
	Trigger       string    `json:"trigger"` // daily, emergency
	Date          string    `json:"date"`
	TasksAnalyzed int       `json:"tasks_analyzed"`
	KeyFindings   []Finding `json:"key_findings"`
	OverallHealth string    `json:"overall_health"` // good, degraded, critical
}

// DeepAnalyze reads today's light logs and active signals, asks the
// heavy-tier LLM for a JSON report, normalizes it, and writes a
// Markdown report under observations/deep_reports/<date>.md.
func (e *Engine) DeepAnalyze(ctx context.Context, trigger string) (DeepReport, error) {
	date := time.Now().UTC().Format("2006-01-02")

	var lightLogs []LightObservation
	rel := fmt.Sprintf("observations/light_logs/%s.jsonl", date)
	_ = store.ReadJSONL(e.w, rel, func(line []byte) error {
		var o LightObservation
		if err := json.Unmarshal(line, &o); err == nil {
			lightLogs = append(lightLogs, o)
		}
		return nil
	})

	var activeSignals []signals.Signal
	if e.sigStore != nil {
		activeSignals, _ = e.sigStore.GetActive(signals.Filters{})
	}

	report := DeepReport{Trigger: trigger, Date: date, TasksAnalyzed: len(lightLogs)}

	if e.deepModel != nil {
		prompt := buildDeepPrompt(trigger, lightLogs, activeSignals)
		if resp, err := e.deepModel.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 2048}); err == nil && resp != nil {
			report = mergeParsedReport(report, resp.Content)
		}
	}

	normalizeFindings(&report)

	if err := writeDeepReportMarkdown(e.w, report, lightLogs, activeSignals); err != nil {
		return report, err
	}
	return report, nil
}

func buildDeepPrompt(trigger string, logs []LightObservation, sigs []signals.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Perform a %s deep analysis. Return a strict JSON object {\"overall_health\": \"good|degraded|critical\", \"key_findings\": [{\"type\": \"error_pattern|efficiency|skill_gap|preference\", \"summary\": \"...\"}]}.\n\n", trigger)
	fmt.Fprintf(&b, "Tasks analyzed: %d\n", len(logs))
	fmt.Fprintf(&b, "Active signals: %d\n", len(sigs))
	return b.String()
}

func mergeParsedReport(base DeepReport, content string) DeepReport {
	var parsed struct {
		OverallHealth string    `json:"overall_health"`
		KeyFindings   []Finding `json:"key_findings"`
	}
	candidate := jsonx.Extract(content)
	if candidate == "" {
		return base
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return base
	}
	base.OverallHealth = parsed.OverallHealth
	base.KeyFindings = parsed.KeyFindings
	return base
}

// normalizeFindings assigns an auto-id and default priority to any
// finding missing one, then sorts by finding-type priority.
func normalizeFindings(report *DeepReport) {
	switch report.OverallHealth {
	case "good", "degraded", "critical":
	default:
		report.OverallHealth = "good"
	}
	for i := range report.KeyFindings {
		f := &report.KeyFindings[i]
		if f.ID == "" {
			f.ID = fmt.Sprintf("finding_%d", i+1)
		}
		if f.Priority == "" {
			f.Priority = "MEDIUM"
		}
		if _, ok := findingTypePriority[f.Type]; !ok {
			f.Type = "efficiency"
		}
	}
	sort.SliceStable(report.KeyFindings, func(i, j int) bool {
		return findingTypePriority[report.KeyFindings[i].Type] < findingTypePriority[report.KeyFindings[j].Type]
	})
}

func writeDeepReportMarkdown(w *store.Workspace, report DeepReport, logs []LightObservation, sigs []signals.Signal) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Deep Analysis — %s (%s)\n\n", report.Date, report.Trigger)
	fmt.Fprintf(&b, "Overall health: **%s**\n\n", report.OverallHealth)
	b.WriteString("## Findings\n\n")
	for _, f := range report.KeyFindings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Type, f.Summary)
	}
	b.WriteString("\n## Data Summary\n\n")
	outcomeCounts := map[string]int{}
	totalTokens := 0
	for _, l := range logs {
		outcomeCounts[l.Outcome]++
		totalTokens += l.Tokens
	}
	fmt.Fprintf(&b, "- Tasks by outcome: %v\n", outcomeCounts)
	priorityCounts := map[signals.Priority]int{}
	for _, s := range sigs {
		priorityCounts[s.Priority]++
	}
	fmt.Fprintf(&b, "- Signals by priority: %v\n", priorityCounts)
	fmt.Fprintf(&b, "- Total tokens: %d\n", totalTokens)

	rel := fmt.Sprintf("observations/deep_reports/%s.md", report.Date)
	return store.WriteFile(w, rel, b.String())
}
