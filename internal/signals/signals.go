// Package signals derives per-task and cross-task signals and persists
// them with an active/archive split, grounded on
// original_source/extensions/signals/{detector,store}.py.
package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/goclaw/internal/reflection"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusHandled Status = "handled"
)

// Signal is one detected signal, per spec.md §3.
type Signal struct {
	SignalID     string    `json:"signal_id"` // sig_<8-hex>
	SignalType   string    `json:"signal_type"`
	Priority     Priority  `json:"priority"`
	Source       string    `json:"source"`
	Description  string    `json:"description"`
	RelatedTasks []string  `json:"related_tasks,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`
	Handler      string    `json:"handler,omitempty"`
	HandledAt    *time.Time `json:"handled_at,omitempty"`
}

func newSignalID() string {
	return "sig_" + uuid.NewString()[:8]
}

// TaskResult is the minimal per-task data the per-task rules consume.
type TaskResult struct {
	TaskID          string
	UserCorrections int
	ReflectionType  reflection.Type
	Outcome         reflection.Outcome
	RootCause       reflection.RootCause
	Lesson          string
	RulesUsed       []string
	TokensUsed      int
}

// DetectPerTask evaluates the four per-task rules from spec.md §4.7,
// each producing 0 or 1 signal.
func DetectPerTask(t TaskResult) []Signal {
	var out []Signal
	now := time.Now().UTC()

	if t.UserCorrections > 0 {
		out = append(out, Signal{
			SignalID: newSignalID(), SignalType: "user_correction", Priority: PriorityMedium,
			Source: t.TaskID, Description: "user issued a correction", RelatedTasks: []string{t.TaskID},
			Timestamp: now, Status: StatusActive,
		})
	}

	if t.ReflectionType == reflection.TypeError && t.Outcome == reflection.OutcomeFailure {
		out = append(out, Signal{
			SignalID: newSignalID(), SignalType: "task_failure", Priority: PriorityHigh,
			Source: t.TaskID,
			Description: fmt.Sprintf("root cause: %s; lesson: %s", t.RootCause, t.Lesson),
			RelatedTasks: []string{t.TaskID}, Timestamp: now, Status: StatusActive,
		})
	}

	if t.ReflectionType == reflection.TypeNone && t.Outcome == reflection.OutcomeSuccess && len(t.RulesUsed) > 0 {
		out = append(out, Signal{
			SignalID: newSignalID(), SignalType: "rule_validated", Priority: PriorityLow,
			Source: t.TaskID, Description: "rules applied successfully", RelatedTasks: []string{t.TaskID},
			Timestamp: now, Status: StatusActive,
		})
	}

	if t.TokensUsed > 10000 {
		out = append(out, Signal{
			SignalID: newSignalID(), SignalType: "efficiency_opportunity", Priority: PriorityLow,
			Source: t.TaskID, Description: fmt.Sprintf("task used %d tokens", t.TokensUsed),
			RelatedTasks: []string{t.TaskID}, Timestamp: now, Status: StatusActive,
		})
	}

	return out
}

// Store reads/writes the active/archive JSONL split under
// signals/active.jsonl and signals/archive.jsonl.
type Store struct {
	w *store.Workspace
}

func NewStore(w *store.Workspace) *Store { return &Store{w: w} }

const (
	activeFile  = "signals/active.jsonl"
	archiveFile = "signals/archive.jsonl"
)

// Add appends a signal to the active log.
func (s *Store) Add(sig Signal) error {
	return store.AppendJSONL(s.w, activeFile, sig)
}

// Filters restricts GetActive's results.
type Filters struct {
	SignalType string
	Priority   Priority
	Since      time.Time
}

func matches(sig Signal, f Filters) bool {
	if f.SignalType != "" && sig.SignalType != f.SignalType {
		return false
	}
	if f.Priority != "" && sig.Priority != f.Priority {
		return false
	}
	if !f.Since.IsZero() && sig.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// GetActive returns active signals matching f.
func (s *Store) GetActive(f Filters) ([]Signal, error) {
	var out []Signal
	err := store.ReadJSONL(s.w, activeFile, func(line []byte) error {
		var sig Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			return nil // malformed lines are skipped, not fatal
		}
		if matches(sig, f) {
			out = append(out, sig)
		}
		return nil
	})
	return out, err
}

// CountRecent counts active signals matching f within the trailing
// window of hours.
func (s *Store) CountRecent(f Filters, hours float64) (int, error) {
	f.Since = time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	sigs, err := s.GetActive(f)
	return len(sigs), err
}

// MarkHandled atomically rewrites active.jsonl to drop the given ids
// and appends the handled records to archive.jsonl. Serialized by the
// workspace's internal write lock to prevent interleaving rewrites.
func (s *Store) MarkHandled(ids []string, handler string) error {
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	now := time.Now().UTC()
	var remaining [][]byte
	var archived []Signal

	err := store.ReadJSONL(s.w, activeFile, func(line []byte) error {
		var sig Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			remaining = append(remaining, append([]byte(nil), line...))
			return nil
		}
		if idSet[sig.SignalID] {
			sig.Status = StatusHandled
			sig.Handler = handler
			sig.HandledAt = &now
			archived = append(archived, sig)
			return nil
		}
		data, _ := json.Marshal(sig)
		remaining = append(remaining, data)
		return nil
	})
	if err != nil {
		return err
	}

	if err := store.RewriteJSONL(s.w, activeFile, remaining); err != nil {
		return err
	}
	for _, sig := range archived {
		if err := store.AppendJSONL(s.w, archiveFile, sig); err != nil {
			return err
		}
	}
	return nil
}
