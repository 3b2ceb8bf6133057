// Package reflection classifies each completed task trace and
// persists lesson records by class, grounded on
// original_source/extensions/memory/reflection.py.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

type Type string

const (
	TypeError      Type = "ERROR"
	TypePreference Type = "PREFERENCE"
	TypeNone       Type = "NONE"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

type RootCause string

const (
	RootCauseWrongAssumption      RootCause = "wrong_assumption"
	RootCauseMissedConsideration  RootCause = "missed_consideration"
	RootCauseToolMisuse           RootCause = "tool_misuse"
	RootCauseKnowledgeGap         RootCause = "knowledge_gap"
)

// Reflection is the per-task lesson record, per spec.md §3. Invariant:
// RootCause is non-empty iff Type == ERROR.
type Reflection struct {
	TaskID            string    `json:"task_id"`
	Type              Type      `json:"type"`
	Outcome           Outcome   `json:"outcome"`
	Lesson            string    `json:"lesson"`
	RootCause         RootCause `json:"root_cause,omitempty"`
	ReusableExperience string   `json:"reusable_experience,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

var validRootCauses = map[RootCause]bool{
	RootCauseWrongAssumption:     true,
	RootCauseMissedConsideration: true,
	RootCauseToolMisuse:          true,
	RootCauseKnowledgeGap:        true,
}

// normalize validates Type/Outcome against closed enums (defaulting to
// NONE/SUCCESS) and enforces the RootCause invariant.
func normalize(r Reflection) Reflection {
	switch r.Type {
	case TypeError, TypePreference, TypeNone:
	default:
		r.Type = TypeNone
	}
	switch r.Outcome {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
	default:
		r.Outcome = OutcomeSuccess
	}
	if r.Type == TypeError {
		if !validRootCauses[r.RootCause] {
			r.RootCause = RootCauseKnowledgeGap
		}
	} else {
		r.RootCause = ""
	}
	return r
}

// TaskInput is the minimal task trace data the reflection prompt needs.
type TaskInput struct {
	TaskID         string
	UserMessage    string
	SystemResponse string
	UserFeedback   string
}

// Reflect asks the LLM gateway to classify a completed task trace.
// Any LLM failure or unparsable output yields the documented fallback
// record; no error ever escapes.
func Reflect(ctx context.Context, gw *llm.Gateway, task TaskInput) Reflection {
	fallback := Reflection{
		TaskID:    task.TaskID,
		Type:      TypeNone,
		Outcome:   OutcomeSuccess,
		Lesson:    "reflection_failed",
		Timestamp: time.Now().UTC(),
	}
	if gw == nil {
		return fallback
	}

	prompt := buildPrompt(task)
	resp, err := gw.Chat(ctx, llm.ChatRequest{
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		return fallback
	}

	var parsed Reflection
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return fallback
	}
	parsed.TaskID = task.TaskID
	parsed.Timestamp = time.Now().UTC()
	return normalize(parsed)
}

func buildPrompt(task TaskInput) string {
	return fmt.Sprintf(
		"Reflect on this completed task and return a strict JSON object with fields "+
			"type (ERROR|PREFERENCE|NONE), outcome (SUCCESS|PARTIAL|FAILURE), lesson, "+
			"root_cause (wrong_assumption|missed_consideration|tool_misuse|knowledge_gap, "+
			"only when type=ERROR), reusable_experience.\n\nUser: %s\nResponse: %s\nFeedback: %s",
		task.UserMessage, task.SystemResponse, task.UserFeedback)
}

// Persist writes r to reflections.jsonl always, plus the class-specific
// side files (error log + error_patterns.md for ERROR, preferences.md
// for PREFERENCE), per spec.md §4.6 and §6's workspace layout.
func Persist(w *store.Workspace, r Reflection) error {
	if err := store.AppendJSONL(w, "memory/user/reflections.jsonl", r); err != nil {
		return err
	}

	switch r.Type {
	case TypeError:
		if err := store.AppendJSONL(w, "memory/user/error_log.jsonl", r); err != nil {
			return err
		}
		bullet := fmt.Sprintf("- [%s] %s (root cause: %s)\n", r.Timestamp.Format("2006-01-02"), r.Lesson, r.RootCause)
		if err := store.AppendMarkdown(w, "memory/user/error_patterns.md", bullet); err != nil {
			return err
		}
	case TypePreference:
		bullet := fmt.Sprintf("- [%s] %s\n", r.Timestamp.Format("2006-01-02"), r.Lesson)
		if err := store.AppendMarkdown(w, "memory/user/preferences.md", bullet); err != nil {
			return err
		}
	}
	return nil
}
