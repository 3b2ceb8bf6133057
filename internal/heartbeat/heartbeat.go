// Package heartbeat periodically reads a HEARTBEAT.md file and invokes
// a callback when it contains actionable content, grounded on
// original_source/core/channels/heartbeat.py.
package heartbeat

import (
	"bufio"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Callback receives the heartbeat file's full content.
type Callback func(ctx context.Context, content string) error

// Service polls a workspace-relative file on a fixed interval.
type Service struct {
	w         *store.Workspace
	rel       string
	watchName string // resolved absolute path, set by watchFile, used to filter directory-level fsnotify events
	interval  time.Duration
	callback  Callback
	log       *slog.Logger
}

func New(w *store.Workspace, rel string, interval time.Duration, cb Callback, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Service{w: w, rel: rel, interval: interval, callback: cb, log: log}
}

// Run blocks, polling on s.interval until ctx is cancelled. It also
// watches the heartbeat file with fsnotify so an external edit between
// polls triggers an immediate tick rather than waiting out the
// interval; watch-setup failures (e.g. the file's directory not
// existing, since the watch is placed on that directory) are
// logged and simply fall back to poll-only behavior.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if watcher, err := s.watchFile(); err != nil {
		s.log.Warn("heartbeat: file watch unavailable, falling back to poll-only", "path", s.rel, "error", err)
	} else {
		defer watcher.Close()
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == s.watchName && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.tick(ctx)
			}
		}
	}
}

func (s *Service) watchFile() (*fsnotify.Watcher, error) {
	full, err := s.w.Resolve(s.rel)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(full)); err != nil {
		watcher.Close()
		return nil, err
	}
	s.watchName = full
	return watcher, nil
}

func (s *Service) tick(ctx context.Context) {
	content, err := store.ReadFile(s.w, s.rel)
	if err != nil {
		s.log.Error("heartbeat: failed to read file", "path", s.rel, "error", err)
		return
	}
	if IsEmpty(content) {
		return
	}
	if err := s.callback(ctx, content); err != nil {
		s.log.Error("heartbeat callback failed", "error", err)
	}
}

// IsEmpty reports whether content has no actionable lines: blank,
// markdown headings, HTML comments, and unchecked/checked checkbox
// lines are all treated as "nothing to do" — matching the Python
// original's emptiness heuristic so a template HEARTBEAT.md never
// triggers a spurious callback.
func IsEmpty(content string) bool {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "<!--") && strings.HasSuffix(line, "-->") {
			continue
		}
		if strings.HasPrefix(line, "- [ ]") || strings.HasPrefix(line, "- [x]") || strings.HasPrefix(line, "- [X]") {
			continue
		}
		return false // found a substantive line
	}
	return true
}
