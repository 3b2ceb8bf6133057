package reflection

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

func TestReflect_NilGatewayReturnsFallback(t *testing.T) {
	r := Reflect(context.Background(), nil, TaskInput{TaskID: "task_0001"})
	if r.Type != TypeNone || r.Outcome != OutcomeSuccess {
		t.Errorf("fallback Type/Outcome = %v/%v, want NONE/SUCCESS", r.Type, r.Outcome)
	}
	if r.Lesson != "reflection_failed" {
		t.Errorf("fallback Lesson = %q, want reflection_failed", r.Lesson)
	}
	if r.TaskID != "task_0001" {
		t.Errorf("fallback TaskID = %q, want task_0001", r.TaskID)
	}
}

func TestNormalize_InvalidEnumsDefaultAndRootCauseInvariant(t *testing.T) {
	tests := []struct {
		name        string
		in          Reflection
		wantType    Type
		wantOutcome Outcome
		wantRC      RootCause
	}{
		{
			name:        "unknown type defaults to NONE",
			in:          Reflection{Type: "bogus", Outcome: OutcomeSuccess},
			wantType:    TypeNone,
			wantOutcome: OutcomeSuccess,
			wantRC:      "",
		},
		{
			name:        "unknown outcome defaults to SUCCESS",
			in:          Reflection{Type: TypeNone, Outcome: "bogus"},
			wantType:    TypeNone,
			wantOutcome: OutcomeSuccess,
			wantRC:      "",
		},
		{
			name:        "error type with invalid root cause falls back to knowledge_gap",
			in:          Reflection{Type: TypeError, Outcome: OutcomeFailure, RootCause: "not_a_real_cause"},
			wantType:    TypeError,
			wantOutcome: OutcomeFailure,
			wantRC:      RootCauseKnowledgeGap,
		},
		{
			name:        "error type with valid root cause is preserved",
			in:          Reflection{Type: TypeError, Outcome: OutcomeFailure, RootCause: RootCauseToolMisuse},
			wantType:    TypeError,
			wantOutcome: OutcomeFailure,
			wantRC:      RootCauseToolMisuse,
		},
		{
			name:        "non-error type always clears root cause",
			in:          Reflection{Type: TypePreference, Outcome: OutcomeSuccess, RootCause: RootCauseToolMisuse},
			wantType:    TypePreference,
			wantOutcome: OutcomeSuccess,
			wantRC:      "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.in)
			if got.Type != tt.wantType || got.Outcome != tt.wantOutcome || got.RootCause != tt.wantRC {
				t.Errorf("normalize(%+v) = {Type:%v Outcome:%v RootCause:%v}, want {%v %v %v}",
					tt.in, got.Type, got.Outcome, got.RootCause, tt.wantType, tt.wantOutcome, tt.wantRC)
			}
		})
	}
}

func TestPersist_ErrorTypeWritesSideFiles(t *testing.T) {
	w, err := store.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	r := Reflection{TaskID: "task_0001", Type: TypeError, Outcome: OutcomeFailure, Lesson: "check input", RootCause: RootCauseToolMisuse}
	if err := Persist(w, r); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if !store.Exists(w, "memory/user/reflections.jsonl") {
		t.Error("reflections.jsonl was not written")
	}
	if !store.Exists(w, "memory/user/error_log.jsonl") {
		t.Error("error_log.jsonl was not written for an ERROR reflection")
	}
	if !store.Exists(w, "memory/user/error_patterns.md") {
		t.Error("error_patterns.md was not written for an ERROR reflection")
	}
	if store.Exists(w, "memory/user/preferences.md") {
		t.Error("preferences.md should not be written for an ERROR reflection")
	}
}

func TestPersist_PreferenceTypeWritesOnlyPreferencesFile(t *testing.T) {
	w, err := store.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	r := Reflection{TaskID: "task_0002", Type: TypePreference, Outcome: OutcomeSuccess, Lesson: "prefers concise replies"}
	if err := Persist(w, r); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if !store.Exists(w, "memory/user/preferences.md") {
		t.Error("preferences.md was not written for a PREFERENCE reflection")
	}
	if store.Exists(w, "memory/user/error_log.jsonl") {
		t.Error("error_log.jsonl should not be written for a PREFERENCE reflection")
	}
}

func TestPersist_NoneTypeWritesOnlyReflectionsLog(t *testing.T) {
	w, err := store.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	r := Reflection{TaskID: "task_0003", Type: TypeNone, Outcome: OutcomeSuccess}
	if err := Persist(w, r); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if store.Exists(w, "memory/user/error_log.jsonl") || store.Exists(w, "memory/user/preferences.md") {
		t.Error("NONE reflection should not write any class-specific side file")
	}
}
