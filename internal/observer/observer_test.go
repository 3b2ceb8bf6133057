package observer

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/reflection"
	"github.com/nextlevelbuilder/goclaw/internal/signals"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

func newTestEngine(t *testing.T, lightGW, deepGW *llm.Gateway) (*Engine, *store.Workspace) {
	t.Helper()
	w, err := store.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	sigStore := signals.NewStore(w)
	return NewEngine(w, lightGW, deepGW, sigStore), w
}

func TestLightweightObserve_NilModelDefaultsToNormalNote(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	obs := e.LightweightObserve(context.Background(), TaskInput{TaskID: "task_0001", Tokens: 100, Model: "claude"}, nil)
	if obs.Note != "normal" {
		t.Errorf("Note = %q, want normal when no light model is configured", obs.Note)
	}
	if obs.Outcome != "SUCCESS" {
		t.Errorf("Outcome = %q, want SUCCESS with no reflection and no feedback", obs.Outcome)
	}
}

func TestLightweightObserve_ReflectionDrivesOutcomeAndErrorType(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	refl := &reflection.Reflection{Type: reflection.TypeError, Outcome: reflection.OutcomeFailure, RootCause: reflection.RootCauseToolMisuse}
	obs := e.LightweightObserve(context.Background(), TaskInput{TaskID: "task_0002"}, refl)
	if obs.Outcome != "FAILURE" {
		t.Errorf("Outcome = %q, want FAILURE", obs.Outcome)
	}
	if obs.ErrorType != "tool_misuse" {
		t.Errorf("ErrorType = %q, want tool_misuse", obs.ErrorType)
	}
}

func TestLightweightObserve_UserFeedbackWithoutReflectionIsPartial(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	obs := e.LightweightObserve(context.Background(), TaskInput{TaskID: "task_0003", UserFeedback: "this wasn't quite right"}, nil)
	if obs.Outcome != "PARTIAL" {
		t.Errorf("Outcome = %q, want PARTIAL", obs.Outcome)
	}
}

func TestLightweightObserve_NoteTruncatedTo100Chars(t *testing.T) {
	longNote := ""
	for i := 0; i < 150; i++ {
		longNote += "x"
	}
	gw := llm.NewGateway(&llm.MockProvider{Responses: []string{longNote}}, 0)
	e, _ := newTestEngine(t, gw, nil)
	obs := e.LightweightObserve(context.Background(), TaskInput{TaskID: "task_0004"}, nil)
	if len(obs.Note) != maxNoteLen {
		t.Errorf("Note length = %d, want %d", len(obs.Note), maxNoteLen)
	}
}

func TestDeepAnalyze_NilModelStillWritesNormalizedReport(t *testing.T) {
	e, w := newTestEngine(t, nil, nil)
	report, err := e.DeepAnalyze(context.Background(), "daily")
	if err != nil {
		t.Fatalf("DeepAnalyze: %v", err)
	}
	if report.OverallHealth != "good" {
		t.Errorf("OverallHealth = %q, want good (default when no findings)", report.OverallHealth)
	}
	date := time.Now().UTC().Format("2006-01-02")
	if !store.Exists(w, "observations/deep_reports/"+date+".md") {
		t.Error("DeepAnalyze should write a markdown report even with a nil model")
	}
}

func TestDeepAnalyze_ParsesAndSortsFindingsByType(t *testing.T) {
	jsonReport := `{"overall_health":"degraded","key_findings":[` +
		`{"type":"preference","summary":"a"},` +
		`{"type":"error_pattern","summary":"b"}` +
		`]}`
	gw := llm.NewGateway(&llm.MockProvider{Responses: []string{jsonReport}}, 0)
	e, _ := newTestEngine(t, nil, gw)

	report, err := e.DeepAnalyze(context.Background(), "daily")
	if err != nil {
		t.Fatalf("DeepAnalyze: %v", err)
	}
	if report.OverallHealth != "degraded" {
		t.Errorf("OverallHealth = %q, want degraded", report.OverallHealth)
	}
	if len(report.KeyFindings) != 2 {
		t.Fatalf("KeyFindings = %+v, want 2", report.KeyFindings)
	}
	if report.KeyFindings[0].Type != "error_pattern" {
		t.Errorf("first finding type = %q, want error_pattern (higher priority)", report.KeyFindings[0].Type)
	}
}

func TestIsInDailyWindow_CircularDistanceAcrossMidnight(t *testing.T) {
	tests := []struct {
		name   string
		hour   int
		minute int
		want   bool
	}{
		{"just before midnight target", 23, 50, true},
		{"just after midnight target", 0, 10, true},
		{"far from target", 12, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2026, 7, 31, tt.hour, tt.minute, 0, 0, time.UTC)
			if got := IsInDailyWindow(now, "00:00", 20); got != tt.want {
				t.Errorf("IsInDailyWindow(%02d:%02d) = %v, want %v", tt.hour, tt.minute, got, tt.want)
			}
		})
	}
}

func TestDailyGate_FiresOnceThenSuppressesSameDate(t *testing.T) {
	g := &DailyGate{}
	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)

	if !g.ShouldFireDaily(now, "03:00", 30) {
		t.Fatal("first call in-window should fire")
	}
	if g.ShouldFireDaily(now.Add(10*time.Minute), "03:00", 30) {
		t.Error("second call for the same date should be suppressed")
	}
	nextDay := now.AddDate(0, 0, 1)
	if !g.ShouldFireDaily(nextDay, "03:00", 30) {
		t.Error("a new date should fire again")
	}
}

func TestCheckEmergency_BelowThresholdDoesNothing(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	_, fired, err := e.CheckEmergency(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("CheckEmergency: %v", err)
	}
	if fired {
		t.Error("CheckEmergency should not fire below threshold")
	}
}

func TestCheckEmergency_AtThresholdFires(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil)
	_, fired, err := e.CheckEmergency(context.Background(), 3, 3)
	if err != nil {
		t.Fatalf("CheckEmergency: %v", err)
	}
	if !fired {
		t.Error("CheckEmergency should fire at threshold")
	}
}
