package observer

import (
	"context"
	"sync"
	"time"
)

// IsInDailyWindow reports whether now falls within toleranceMinutes of
// dailyTime (an "HH:MM" string), using circular distance on a 24-hour
// clock so a window near midnight works correctly — the canonical
// algorithm from extensions/observer/scheduler.py::_is_in_daily_window,
// not the deprecated non-circular helper in the original's main.py.
func IsInDailyWindow(now time.Time, dailyTime string, toleranceMinutes int) bool {
	target, err := time.Parse("15:04", dailyTime)
	if err != nil {
		return false
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	targetMinutes := target.Hour()*60 + target.Minute()

	delta := nowMinutes - targetMinutes
	if delta < 0 {
		delta = -delta
	}
	circular := delta
	if 1440-delta < circular {
		circular = 1440 - delta
	}
	return circular <= toleranceMinutes
}

// DailyGate prevents deep_analyze(daily) from firing more than once
// per date, matching the "mark-done per date" rule in spec.md §4.8.
type DailyGate struct {
	mu       sync.Mutex
	lastDate string
}

// ShouldFireDaily returns true (and marks the date as fired) the first
// time it's called for a given date within the window; subsequent
// calls for the same date return false even if still in the window.
func (g *DailyGate) ShouldFireDaily(now time.Time, dailyTime string, toleranceMinutes int) bool {
	if !IsInDailyWindow(now, dailyTime, toleranceMinutes) {
		return false
	}
	date := now.Format("2006-01-02")

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastDate == date {
		return false
	}
	g.lastDate = date
	return true
}

// CheckEmergency runs deep_analyze(emergency) immediately (taking
// precedence over the daily check) when countCritical24h reaches
// threshold.
func (e *Engine) CheckEmergency(ctx context.Context, countCritical24h, threshold int) (DeepReport, bool, error) {
	if countCritical24h < threshold {
		return DeepReport{}, false, nil
	}
	report, err := e.DeepAnalyze(ctx, "emergency")
	return report, true, err
}
