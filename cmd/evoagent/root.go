// Composition root: wires every package the spec names into one
// running process, following the teacher's cmd/root.go cobra shape
// (persistent --config/-v flags, a version subcommand, Execute entry).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/agent"
	"github.com/nextlevelbuilder/goclaw/internal/architect"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/channels"
	"github.com/nextlevelbuilder/goclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/goclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	agentcontext "github.com/nextlevelbuilder/goclaw/internal/context"
	"github.com/nextlevelbuilder/goclaw/internal/heartbeat"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/memory"
	"github.com/nextlevelbuilder/goclaw/internal/metrics"
	"github.com/nextlevelbuilder/goclaw/internal/observer"
	"github.com/nextlevelbuilder/goclaw/internal/rollback"
	"github.com/nextlevelbuilder/goclaw/internal/rules"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/signals"
	"github.com/nextlevelbuilder/goclaw/internal/store"
	"github.com/nextlevelbuilder/goclaw/internal/telemetry"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

// Execute builds and runs the root cobra command.
func Execute() error {
	root := &cobra.Command{
		Use:   "evoagent",
		Short: "A self-improving conversational agent",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the evoagent version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	})

	return root.Execute()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// runServe builds every collaborator named in the spec and runs the
// process until SIGINT/SIGTERM, shutting down in the documented order:
// cancel the bridge loop, stop cron, stop heartbeat, stop channels.
func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("evoagent: load config: %w", err)
	}

	w, err := store.NewWorkspace(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("evoagent: init workspace: %w", err)
	}

	interp, err := rules.Load(filepath.Join(w.Root(), "rules"))
	if err != nil {
		return fmt.Errorf("evoagent: load rules: %w", err)
	}

	provider := llm.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.Agent.Model, cfg.LLM.RequestTimeoutDuration())
	gw := llm.NewGateway(provider, cfg.LLM.RateLimitRPS).
		WithRegistry(cfg.LLM.Providers, cfg.LLM.Aliases, cfg.LLM.RequestTimeoutDuration())

	memStore := memory.NewStore(w)
	sigStore := signals.NewStore(w)
	tracker := metrics.NewTracker(w)
	backups := rollback.NewManager(w)
	obs := observer.NewEngine(w, gw, gw, sigStore)
	arch := architect.NewEngine(w, gw, sigStore, tracker, backups)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("evoagent: setup telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	budget := agentcontext.TokenBudget{Total: cfg.Budget.TotalTokens, OutputReserve: cfg.Budget.ReserveTokens}
	loop := agent.New(agent.Config{
		Workspace: w, Gateway: gw, Rules: interp, Memory: memStore, Budget: budget,
		KeepRecent: cfg.Budget.KeepRecent, SignalStore: sigStore, Tracker: tracker, Observer: obs,
		Identity: cfg.Agent.SystemPrompt, TaskAnchor: "", Log: log,
	})
	msgBus := bus.New(log)
	chMgr := channels.NewManager(msgBus, log)
	if cfg.Channels.Telegram != nil && cfg.Channels.Telegram.Enabled {
		chMgr.Register(telegram.New(cfg.Channels.Telegram.Token, msgBus, log))
	}
	if cfg.Channels.Discord != nil && cfg.Channels.Discord.Enabled {
		chMgr.Register(discord.New(cfg.Channels.Discord.Token, msgBus, log))
	}

	jobs := buildCronJobs(cfg, arch, obs, tracker, sigStore)
	cron := scheduler.New(cfg.Cron.PollIntervalDuration(), jobs, log)

	hb := heartbeat.New(w, cfg.Heartbeat.File, time.Duration(cfg.Heartbeat.IntervalSeconds)*time.Second, func(ctx context.Context, content string) error {
		trace := loop.ProcessMessage(ctx, "Heartbeat file has pending action items:\n\n"+content, "", "")
		log.Info("heartbeat tick processed", "task_id", trace.TaskID)
		return nil
	}, log)

	if err := chMgr.StartAll(ctx); err != nil {
		return fmt.Errorf("evoagent: start channels: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	go func() {
		defer wg.Done()
		runBridgeLoop(bridgeCtx, msgBus, loop, log)
	}()
	go func() {
		defer wg.Done()
		cron.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		hb.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("evoagent: shutting down")

	cancelBridge()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := chMgr.StopAll(stopCtx); err != nil {
		log.Error("evoagent: error stopping channels", "error", err)
	}
	return nil
}

const maxReplyChunk = 4000

// runBridgeLoop consumes inbound messages from the bus, runs each
// through the agent loop, and publishes the reply back out in
// newline-bounded chunks no larger than maxReplyChunk.
func runBridgeLoop(ctx context.Context, msgBus *bus.MessageBus, loop *agent.Loop, log *slog.Logger) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		trace := loop.ProcessMessage(ctx, msg.Text, "", msg.Channel)
		for _, chunk := range chunkReply(trace.SystemResponse, maxReplyChunk) {
			out := bus.OutboundMessage{Channel: msg.Channel, UserID: msg.UserID, Text: chunk, Metadata: msg.Metadata}
			if !msgBus.PublishOutbound(out) {
				log.Error("bridge: outbound queue full, dropped reply chunk", "task_id", trace.TaskID, "channel", msg.Channel)
			}
		}
	}
}

// chunkReply splits text into pieces no longer than max, preferring to
// break on a newline boundary near the limit so chunks stay readable.
func chunkReply(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var chunks []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// buildCronJobs wires the self-improvement cycle's background checks
// into scheduler.Job callbacks: a daily deep-observation pass, a
// proposal-generation pass gated on a deep report and active signals, the
// council-review and auto-execution steps that advance proposals past
// generation, and pending-verification checks.
func buildCronJobs(cfg *config.Config, arch *architect.Engine, obs *observer.Engine, tracker *metrics.Tracker, sigStore *signals.Store) []scheduler.Job {
	var jobs []scheduler.Job
	for _, j := range cfg.Cron.Jobs {
		job := j
		jobs = append(jobs, scheduler.Job{
			Name: job.Name, Expression: job.Expression,
			Task: func(ctx context.Context) error {
				switch job.Task {
				case "deep_observe":
					_, err := obs.DeepAnalyze(ctx, job.Name)
					return err
				case "analyze_and_propose":
					_, err := arch.AnalyzeAndPropose(ctx, job.Name)
					return err
				case "apply_council_review":
					proposals, err := arch.ListProposals()
					if err != nil {
						return err
					}
					for i := range proposals {
						if proposals[i].Status == architect.StatusNew && proposals[i].Level >= architect.LevelCouncilPlusWarn {
							if err := arch.ApplyCouncilReview(ctx, &proposals[i]); err != nil {
								return err
							}
						}
					}
					return nil
				case "execute_proposals":
					proposals, err := arch.ListProposals()
					if err != nil {
						return err
					}
					for i := range proposals {
						if proposals[i].Status == architect.StatusNew && proposals[i].Level <= architect.LevelCouncilReview {
							if err := arch.ExecuteProposal(&proposals[i]); err != nil {
								return err
							}
						}
					}
					return nil
				case "check_verification":
					proposals, err := arch.ListProposals()
					if err != nil {
						return err
					}
					for i := range proposals {
						if proposals[i].Status == architect.StatusVerifying {
							if err := arch.CheckVerification(&proposals[i]); err != nil {
								return err
							}
						}
					}
					return nil
				case "flush_daily_metrics":
					return tracker.FlushDaily(time.Now().UTC().Format("2006-01-02"))
				default:
					return nil
				}
			},
		})
	}
	return jobs
}
