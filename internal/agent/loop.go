// Package agent implements the orchestrator turning one user message
// into a TaskTrace: memory/preference lookup, context assembly,
// conditional compaction, the primary LLM call, and a fire-and-forget
// post-task pipeline. Grounded on the teacher's internal/agent/loop.go
// Think-Act-Observe shape and original_source/core/agent_loop.py.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/compaction"
	agentcontext "github.com/nextlevelbuilder/goclaw/internal/context"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/memory"
	"github.com/nextlevelbuilder/goclaw/internal/metrics"
	"github.com/nextlevelbuilder/goclaw/internal/observer"
	"github.com/nextlevelbuilder/goclaw/internal/reflection"
	"github.com/nextlevelbuilder/goclaw/internal/rules"
	"github.com/nextlevelbuilder/goclaw/internal/signals"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// TaskTrace is the immutable record of one user turn, per spec.md §3.
type TaskTrace struct {
	TaskID         string
	Timestamp      time.Time
	UserMessage    string
	SystemResponse string
	UserFeedback   string
	ToolsUsed      []string
	TokensUsed     int
	Model          string
	DurationMs     int64
}

const fallbackReply = "Sorry, I wasn't able to come up with a response just now — could you rephrase or try again?"

// Loop is one agent instance's turn processor.
type Loop struct {
	w          *store.Workspace
	gw         *llm.Gateway
	rules      *rules.Interpreter
	memory     *memory.Store
	budget     agentcontext.TokenBudget
	keepRecent int // max_history_rounds

	sigStore *signals.Store
	tracker  *metrics.Tracker
	obs      *observer.Engine

	identity   string
	taskAnchor string

	mu      sync.Mutex
	history []llm.Message
	counter int

	log *slog.Logger
}

// Config wires every collaborator a Loop needs.
type Config struct {
	Workspace    *store.Workspace
	Gateway      *llm.Gateway
	Rules        *rules.Interpreter
	Memory       *memory.Store
	Budget       agentcontext.TokenBudget
	KeepRecent   int
	SignalStore  *signals.Store
	Tracker      *metrics.Tracker
	Observer     *observer.Engine
	Identity     string
	TaskAnchor   string
	Log          *slog.Logger
}

func New(cfg Config) *Loop {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	keepRecent := cfg.KeepRecent
	if keepRecent <= 0 {
		keepRecent = 10
	}
	return &Loop{
		w: cfg.Workspace, gw: cfg.Gateway, rules: cfg.Rules, memory: cfg.Memory,
		budget: cfg.Budget, keepRecent: keepRecent, sigStore: cfg.SignalStore,
		tracker: cfg.Tracker, obs: cfg.Observer, identity: cfg.Identity,
		taskAnchor: cfg.TaskAnchor, log: log,
	}
}

func (l *Loop) nextTaskID() string {
	l.counter++
	return fmt.Sprintf("task_%04d", l.counter)
}

// ProcessMessage runs the full 8-step turn lifecycle and returns the
// resulting TaskTrace. The post-task pipeline is fired in a goroutine
// and never delays the return.
func (l *Loop) ProcessMessage(ctx context.Context, userMessage, userFeedback, project string) TaskTrace {
	start := time.Now()

	l.mu.Lock()
	taskID := l.nextTaskID()
	historySnapshot := append([]llm.Message(nil), l.history...)
	l.mu.Unlock()

	var memories []string
	var prefs string
	if l.memory != nil {
		memories = l.memory.GetRelevantMemories(userMessage, project, 5)
		prefs = l.memory.GetUserPreferences()
	}

	assembled := l.assemble(userMessage, historySnapshot, memories, prefs)

	if assembled.NeedsCompaction(l.budget) {
		result := compaction.Compact(ctx, l.gw, historySnapshot, l.keepRecent)
		historySnapshot = result.CompactedHistory // compaction failure yields the unchanged input, never aborting the turn
		assembled = l.assemble(userMessage, historySnapshot, memories, prefs)
	}

	model := l.gw.DefaultModel()
	reply := fallbackReply
	resp, err := l.gw.Chat(ctx, llm.ChatRequest{
		Model:     model,
		Messages:  append(append([]llm.Message(nil), assembled.ConversationHistory...), llm.Message{Role: "user", Content: userMessage}),
		MaxTokens: l.budget.OutputReserve,
	})
	if err == nil && resp != nil {
		if resp.Content != "" {
			reply = resp.Content
		}
	} else if err != nil {
		l.log.Warn("agent: llm call failed, using fallback reply", "task_id", taskID, "error", err)
	}

	l.mu.Lock()
	l.history = append(l.history, llm.Message{Role: "user", Content: userMessage}, llm.Message{Role: "assistant", Content: reply})
	maxMessages := l.keepRecent * 2
	if maxMessages > 0 && len(l.history) > maxMessages {
		l.history = l.history[len(l.history)-maxMessages:]
	}
	l.mu.Unlock()

	trace := TaskTrace{
		TaskID: taskID, Timestamp: start.UTC(), UserMessage: userMessage,
		SystemResponse: reply, UserFeedback: userFeedback,
		TokensUsed: assembled.TotalTokens, Model: model,
		DurationMs: time.Since(start).Milliseconds(),
	}

	go l.runPostTaskPipeline(context.WithoutCancel(ctx), trace)
	return trace
}

func (l *Loop) assemble(userMessage string, history []llm.Message, memories []string, prefs string) agentcontext.AssembledContext {
	engine := &agentcontext.Engine{Rules: l.rules, Budget: l.budget}
	return engine.Assemble(userMessage, history, memories, l.identity, l.taskAnchor, prefs, "")
}

// runPostTaskPipeline runs reflection, signal detection, light
// observation, and metrics recording, each isolated so one stage's
// failure never prevents the others — and none of it blocks the reply
// already returned to the caller.
func (l *Loop) runPostTaskPipeline(ctx context.Context, trace TaskTrace) {
	refl := l.safeReflect(ctx, trace)
	l.safeDetectSignals(trace, refl)
	l.safeObserve(ctx, trace, refl)
	l.safeRecordMetrics(trace, refl)
}

func (l *Loop) safeReflect(ctx context.Context, trace TaskTrace) (refl reflection.Reflection) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent: reflection stage panicked", "task_id", trace.TaskID, "panic", r)
			refl = reflection.Reflection{TaskID: trace.TaskID, Type: reflection.TypeNone, Outcome: reflection.OutcomeSuccess}
		}
	}()
	refl = reflection.Reflect(ctx, l.gw, reflection.TaskInput{
		TaskID: trace.TaskID, UserMessage: trace.UserMessage,
		SystemResponse: trace.SystemResponse, UserFeedback: trace.UserFeedback,
	})
	if err := reflection.Persist(l.w, refl); err != nil {
		l.log.Error("agent: failed to persist reflection", "task_id", trace.TaskID, "error", err)
	}
	return refl
}

func (l *Loop) safeDetectSignals(trace TaskTrace, refl reflection.Reflection) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent: signal detection panicked", "task_id", trace.TaskID, "panic", r)
		}
	}()
	if l.sigStore == nil {
		return
	}
	corrections := 0
	if trace.UserFeedback != "" {
		corrections = 1
	}
	for _, sig := range signals.DetectPerTask(signals.TaskResult{
		TaskID: trace.TaskID, UserCorrections: corrections,
		ReflectionType: refl.Type, Outcome: refl.Outcome, RootCause: refl.RootCause,
		Lesson: refl.Lesson, TokensUsed: trace.TokensUsed,
	}) {
		if err := l.sigStore.Add(sig); err != nil {
			l.log.Error("agent: failed to store signal", "task_id", trace.TaskID, "error", err)
		}
	}
}

func (l *Loop) safeObserve(ctx context.Context, trace TaskTrace, refl reflection.Reflection) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent: observer stage panicked", "task_id", trace.TaskID, "panic", r)
		}
	}()
	if l.obs == nil {
		return
	}
	l.obs.LightweightObserve(ctx, observer.TaskInput{
		TaskID: trace.TaskID, Tokens: trace.TokensUsed, Model: trace.Model,
		UserFeedback: trace.UserFeedback,
	}, &refl)
}

func (l *Loop) safeRecordMetrics(trace TaskTrace, refl reflection.Reflection) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("agent: metrics stage panicked", "task_id", trace.TaskID, "panic", r)
		}
	}()
	if l.tracker == nil {
		return
	}
	corrections := 0
	if trace.UserFeedback != "" {
		corrections = 1
	}
	if err := l.tracker.Append(metrics.Event{
		EventType: metrics.EventTask, Timestamp: trace.Timestamp, Outcome: string(refl.Outcome),
		Tokens: trace.TokensUsed, Model: trace.Model, DurationMs: trace.DurationMs, Corrections: corrections,
	}); err != nil {
		l.log.Error("agent: failed to append metrics event", "task_id", trace.TaskID, "error", err)
	}
}
