package signals

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// rawTaskEvent is the subset of metrics/events.jsonl task-event fields
// this package needs. Reading metrics' file directly (rather than
// importing the metrics package) is the intentional cross-component
// file coupling spec.md's Design Notes calls out as the durable
// substrate's contract.
type rawTaskEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"`
}

// DetectPatterns runs the three cross-task rules from spec.md §4.7
// over the trailing lookbackHours window and appends any newly
// detected signal to the active log.
func (s *Store) DetectPatterns(lookbackHours float64) ([]Signal, error) {
	since := time.Now().UTC().Add(-time.Duration(lookbackHours * float64(time.Hour)))
	var newSignals []Signal

	failures, err := s.GetActive(Filters{SignalType: "task_failure", Since: since})
	if err != nil {
		return nil, err
	}
	if len(failures) >= 2 {
		already, err := s.hasActiveWithSource("repeated_error", "patterns:repeated_error", since)
		if err != nil {
			return nil, err
		}
		if !already {
			sig := Signal{
				SignalID: newSignalID(), SignalType: "repeated_error", Priority: PriorityHigh,
				Source: "patterns:repeated_error", Description: fmt.Sprintf("%d task failures in the last %.0fh", len(failures), lookbackHours),
				Timestamp: time.Now().UTC(), Status: StatusActive,
			}
			if err := s.Add(sig); err != nil {
				return nil, err
			}
			newSignals = append(newSignals, sig)
		}
	}

	userPatterns, err := s.GetActive(Filters{SignalType: "user_pattern", Since: since})
	if err != nil {
		return nil, err
	}
	if len(userPatterns) >= 3 {
		already, err := s.hasActiveWithSource("user_pattern", "patterns:user_pattern", since)
		if err != nil {
			return nil, err
		}
		if !already {
			sig := Signal{
				SignalID: newSignalID(), SignalType: "user_pattern", Priority: PriorityMedium,
				Source: "patterns:user_pattern", Description: fmt.Sprintf("%d user_pattern signals in the last %.0fh", len(userPatterns), lookbackHours),
				Timestamp: time.Now().UTC(), Status: StatusActive,
			}
			if err := s.Add(sig); err != nil {
				return nil, err
			}
			newSignals = append(newSignals, sig)
		}
	}

	degraded, recent, baseline, err := s.detectPerformanceDegradation()
	if err != nil {
		return nil, err
	}
	if degraded {
		already, err := s.hasActiveWithSource("performance_degradation", "patterns:performance_degradation", since)
		if err != nil {
			return nil, err
		}
		if !already {
			sig := Signal{
				SignalID: newSignalID(), SignalType: "performance_degradation", Priority: PriorityCritical,
				Source: "patterns:performance_degradation",
				Description: fmt.Sprintf("3-day success rate %.2f vs 7-day baseline %.2f", recent, baseline),
				Timestamp: time.Now().UTC(), Status: StatusActive,
			}
			if err := s.Add(sig); err != nil {
				return nil, err
			}
			newSignals = append(newSignals, sig)
		}
	}

	return newSignals, nil
}

// hasActiveWithSource checks idempotency: a signal of signalType with
// the given source already present in the window suppresses re-emission.
func (s *Store) hasActiveWithSource(signalType, source string, since time.Time) (bool, error) {
	sigs, err := s.GetActive(Filters{SignalType: signalType, Since: since})
	if err != nil {
		return false, err
	}
	for _, sig := range sigs {
		if sig.Source == source {
			return true, nil
		}
	}
	return false, nil
}

// detectPerformanceDegradation compares the trailing 3-day success
// rate against the preceding 7-day baseline, reading task events
// directly from metrics/events.jsonl.
func (s *Store) detectPerformanceDegradation() (degraded bool, recent, baseline float64, err error) {
	now := time.Now().UTC()
	recentStart := now.AddDate(0, 0, -3)
	baselineStart := now.AddDate(0, 0, -10)

	var recentTotal, recentSuccess, baseTotal, baseSuccess int

	readErr := readEventsJSONL(s, func(ev rawTaskEvent) {
		if ev.EventType != "task" {
			return
		}
		switch {
		case ev.Timestamp.After(recentStart):
			recentTotal++
			if ev.Outcome == "SUCCESS" {
				recentSuccess++
			}
		case ev.Timestamp.After(baselineStart):
			baseTotal++
			if ev.Outcome == "SUCCESS" {
				baseSuccess++
			}
		}
	})
	if readErr != nil {
		return false, 0, 0, readErr
	}

	if recentTotal == 0 || baseTotal == 0 {
		return false, 0, 0, nil
	}
	recent = float64(recentSuccess) / float64(recentTotal)
	baseline = float64(baseSuccess) / float64(baseTotal)
	if baseline <= 0 {
		return false, recent, baseline, nil
	}
	drop := (baseline - recent) / baseline
	return drop > 0.15, recent, baseline, nil
}

func readEventsJSONL(s *Store, fn func(rawTaskEvent)) error {
	return store.ReadJSONL(s.w, "metrics/events.jsonl", func(line []byte) error {
		var ev rawTaskEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil
		}
		fn(ev)
		return nil
	})
}
