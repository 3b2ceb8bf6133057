// Package scheduler polls a small set of cron-expression jobs and
// fires callbacks as they come due, grounded on
// original_source/core/channels/cron.py.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Job is one scheduled task: an expression, a human name, and the
// callback to invoke when it fires.
type Job struct {
	Name       string
	Expression string
	Task       func(ctx context.Context) error
}

// CronService polls every registered job on a fixed interval and fires
// it when its expression is due at the poll time, at most once per
// minute; the fired minute is recorded before the callback runs, so a
// slow or failing callback never causes the job to re-fire for the same
// minute. A due minute that no poll lands in is not caught up. Due jobs within a
// tick run one at a time on a single cooperative worker — the
// scheduler never runs two callbacks concurrently — so one job's
// failure or panic never corrupts another's state, but a slow job does
// delay the others queued behind it in the same tick.
type CronService struct {
	poll    time.Duration
	jobs    []Job
	nextRun map[string]time.Time
	log     *slog.Logger
	gron    gronx.Gronx
}

func New(poll time.Duration, jobs []Job, log *slog.Logger) *CronService {
	if log == nil {
		log = slog.Default()
	}
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &CronService{poll: poll, jobs: jobs, nextRun: map[string]time.Time{}, log: log, gron: gronx.New()}
}

// Run blocks, polling until ctx is cancelled.
func (s *CronService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.tick(ctx) // evaluate once immediately, matching the Python loop's first-pass behavior
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tickAt(ctx, now)
		}
	}
}

func (s *CronService) tick(ctx context.Context) {
	s.tickAt(ctx, time.Now())
}

func (s *CronService) tickAt(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		due, err := s.gron.IsDue(job.Expression, now)
		if err != nil {
			s.log.Error("invalid cron expression", "job", job.Name, "expression", job.Expression, "error", err)
			continue
		}
		if !due {
			continue
		}
		minute := now.Truncate(time.Minute)
		if last, ok := s.nextRun[job.Name]; ok && !minute.After(last) {
			continue
		}
		s.nextRun[job.Name] = minute

		s.runJob(ctx, job)
	}
}

// runJob executes one job's callback on the calling goroutine, isolating
// a panic to this job so it can't take down the scheduler or a sibling
// job due in the same tick.
func (s *CronService) runJob(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cron job panicked", "job", j.Name, "panic", r)
		}
	}()
	if err := j.Task(ctx); err != nil {
		s.log.Error("cron job failed", "job", j.Name, "error", err)
	}
}
