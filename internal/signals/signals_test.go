package signals

import (
	"testing"

	"github.com/nextlevelbuilder/goclaw/internal/reflection"
)

func TestDetectPerTask(t *testing.T) {
	tests := []struct {
		name       string
		in         TaskResult
		wantTypes  []string
	}{
		{
			name: "user correction raises a signal",
			in:   TaskResult{TaskID: "task_0001", UserCorrections: 1},
			wantTypes: []string{"user_correction"},
		},
		{
			name: "failed task raises task_failure",
			in: TaskResult{TaskID: "task_0002", ReflectionType: reflection.TypeError, Outcome: reflection.OutcomeFailure,
				RootCause: reflection.RootCauseToolMisuse, Lesson: "check edge cases"},
			wantTypes: []string{"task_failure"},
		},
		{
			name: "clean success with rules applied validates the rule",
			in:   TaskResult{TaskID: "task_0003", ReflectionType: reflection.TypeNone, Outcome: reflection.OutcomeSuccess, RulesUsed: []string{"core"}},
			wantTypes: []string{"rule_validated"},
		},
		{
			name: "heavy token usage raises efficiency_opportunity",
			in:   TaskResult{TaskID: "task_0004", TokensUsed: 20000},
			wantTypes: []string{"efficiency_opportunity"},
		},
		{
			name:      "ordinary quiet success raises nothing",
			in:        TaskResult{TaskID: "task_0005", Outcome: reflection.OutcomeSuccess},
			wantTypes: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectPerTask(tt.in)
			if len(got) != len(tt.wantTypes) {
				t.Fatalf("DetectPerTask(%+v) produced %d signals, want %d", tt.in, len(got), len(tt.wantTypes))
			}
			for i, sig := range got {
				if sig.SignalType != tt.wantTypes[i] {
					t.Errorf("signal[%d].SignalType = %q, want %q", i, sig.SignalType, tt.wantTypes[i])
				}
				if sig.Status != StatusActive {
					t.Errorf("signal[%d].Status = %q, want active", i, sig.Status)
				}
			}
		})
	}
}
