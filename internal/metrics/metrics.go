// Package metrics appends task/signal/proposal events and computes
// daily rollups, success-rate trends, and the repair trigger,
// grounded on original_source/extensions/evolution/metrics.py.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// EventKind discriminates MetricsEvent variants, per spec.md §3.
type EventKind string

const (
	EventTask     EventKind = "task"
	EventSignal   EventKind = "signal"
	EventProposal EventKind = "proposal"
)

// Event is one append-only metrics record. Fields not relevant to a
// given EventType are left zero.
type Event struct {
	EventType  EventKind `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome,omitempty"`
	Tokens     int       `json:"tokens,omitempty"`
	Model      string    `json:"model,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Corrections int      `json:"corrections,omitempty"`
	ErrorType  string    `json:"error_type,omitempty"`
	Priority   string    `json:"priority,omitempty"` // signal events
	ProposalID string    `json:"proposal_id,omitempty"`
	Status     string    `json:"status,omitempty"` // proposal events: executed, rolled_back, ...
}

const eventsFile = "metrics/events.jsonl"

// Tracker reads/writes the events log and computes summaries.
type Tracker struct {
	w *store.Workspace
}

func NewTracker(w *store.Workspace) *Tracker { return &Tracker{w: w} }

// Append writes one event to metrics/events.jsonl.
func (t *Tracker) Append(ev Event) error {
	return store.AppendJSONL(t.w, eventsFile, ev)
}

// DailySummary mirrors the YAML layout spec.md §6 documents.
type DailySummary struct {
	Date                  string         `yaml:"date"`
	Tasks                 TaskCounts     `yaml:"tasks"`
	Tokens                TokenCounts    `yaml:"tokens"`
	UserCorrections       int            `yaml:"user_corrections"`
	SignalsDetected       int            `yaml:"signals_detected"`
	ObserverDeepAnalyses  int            `yaml:"observer_deep_analyses"`
	ArchitectProposals    int            `yaml:"architect_proposals"`
	ModificationsExecuted int            `yaml:"modifications_executed"`
	ModificationsRolledBack int          `yaml:"modifications_rolled_back"`
}

type TaskCounts struct {
	Total       int     `yaml:"total"`
	Success     int     `yaml:"success"`
	Partial     int     `yaml:"partial"`
	Failure     int     `yaml:"failure"`
	SuccessRate float64 `yaml:"success_rate"`
}

type TokenCounts struct {
	PerModel map[string]int `yaml:"per_model"`
	Total    int            `yaml:"total"`
}

func (t *Tracker) allEvents() ([]Event, error) {
	var out []Event
	err := store.ReadJSONL(t.w, eventsFile, func(line []byte) error {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// GetDailySummary aggregates every event whose timestamp falls on
// date (format "2006-01-02"); empty date means today (UTC).
func (t *Tracker) GetDailySummary(date string) (DailySummary, error) {
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	events, err := t.allEvents()
	if err != nil {
		return DailySummary{}, err
	}

	summary := DailySummary{Date: date, Tokens: TokenCounts{PerModel: map[string]int{}}}
	for _, ev := range events {
		if ev.Timestamp.Format("2006-01-02") != date {
			continue
		}
		switch ev.EventType {
		case EventTask:
			summary.Tasks.Total++
			switch ev.Outcome {
			case "SUCCESS":
				summary.Tasks.Success++
			case "PARTIAL":
				summary.Tasks.Partial++
			case "FAILURE":
				summary.Tasks.Failure++
			}
			summary.Tokens.Total += ev.Tokens
			if ev.Model != "" {
				summary.Tokens.PerModel[ev.Model] += ev.Tokens
			}
			summary.UserCorrections += ev.Corrections
		case EventSignal:
			summary.SignalsDetected++
		case EventProposal:
			summary.ArchitectProposals++
			switch ev.Status {
			case "executed":
				summary.ModificationsExecuted++
			case "rolled_back":
				summary.ModificationsRolledBack++
			}
		}
	}
	if summary.Tasks.Total > 0 {
		summary.Tasks.SuccessRate = float64(summary.Tasks.Success) / float64(summary.Tasks.Total)
	}
	return summary, nil
}

// GetSuccessRate computes the success rate over the trailing `days`
// day-bucketed summaries combined.
func (t *Tracker) GetSuccessRate(days int) (float64, error) {
	total, success, err := t.taskCountsOverWindow(days)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(success) / float64(total), nil
}

func (t *Tracker) taskCountsOverWindow(days int) (total, success int, err error) {
	events, err := t.allEvents()
	if err != nil {
		return 0, 0, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	for _, ev := range events {
		if ev.EventType != EventTask || ev.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if ev.Outcome == "SUCCESS" {
			success++
		}
	}
	return total, success, nil
}

// Trend describes a metric's trajectory over the trailing window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendFlat      Trend = "flat"
	TrendDegrading Trend = "degrading"
)

// GetTrend buckets success rate by day over the trailing `days` days
// and classifies the slope between the first and second half.
func (t *Tracker) GetTrend(days int) (Trend, error) {
	events, err := t.allEvents()
	if err != nil {
		return TrendFlat, err
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	byDay := map[string][2]int{} // date -> [total, success]
	for _, ev := range events {
		if ev.EventType != EventTask || ev.Timestamp.Before(cutoff) {
			continue
		}
		d := ev.Timestamp.Format("2006-01-02")
		c := byDay[d]
		c[0]++
		if ev.Outcome == "SUCCESS" {
			c[1]++
		}
		byDay[d] = c
	}

	var dates []string
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	if len(dates) < 2 {
		return TrendFlat, nil
	}

	mid := len(dates) / 2
	rate := func(ds []string) float64 {
		total, success := 0, 0
		for _, d := range ds {
			c := byDay[d]
			total += c[0]
			success += c[1]
		}
		if total == 0 {
			return 0
		}
		return float64(success) / float64(total)
	}
	first := rate(dates[:mid])
	second := rate(dates[mid:])

	switch {
	case second-first > 0.05:
		return TrendImproving, nil
	case first-second > 0.05:
		return TrendDegrading, nil
	default:
		return TrendFlat, nil
	}
}

// ShouldTriggerRepair is true when either CRITICAL signals in the last
// 24h >= 3, or the recent 3-day success rate drops more than 20% from
// a preceding 7-day baseline (baseline must be > 0).
func (t *Tracker) ShouldTriggerRepair(criticalSignalsLast24h int) (bool, error) {
	if criticalSignalsLast24h >= 3 {
		return true, nil
	}

	events, err := t.allEvents()
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	recentStart := now.AddDate(0, 0, -3)
	baselineStart := now.AddDate(0, 0, -10)

	var recentTotal, recentSuccess, baseTotal, baseSuccess int
	for _, ev := range events {
		if ev.EventType != EventTask {
			continue
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
	}
	if recentTotal == 0 || baseTotal == 0 {
		return false, nil
	}
	baseline := float64(baseSuccess) / float64(baseTotal)
	if baseline <= 0 {
		return false, nil
	}
	recent := float64(recentSuccess) / float64(recentTotal)
	return (baseline-recent)/baseline > 0.20, nil
}

// FlushDaily writes the daily summary to metrics/daily/<date>.yaml.
func (t *Tracker) FlushDaily(date string) error {
	summary, err := t.GetDailySummary(date)
	if err != nil {
		return err
	}
	rel := fmt.Sprintf("metrics/daily/%s.yaml", summary.Date)
	return store.WriteYAML(t.w, rel, summary)
}
