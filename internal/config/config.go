// Package config loads the evoagent YAML configuration, following the
// teacher gateway's config shape (one root struct, nested sub-configs,
// an embedded mutex for safe hot-reload) but using YAML instead of
// JSON5, per spec.md §6's explicit requirement.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the evoagent process.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Cron      CronConfig      `yaml:"cron"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Observer  ObserverConfig  `yaml:"observer"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Communication CommunicationConfig `yaml:"communication"`

	mu sync.RWMutex
}

// AgentConfig configures the agent loop itself.
type AgentConfig struct {
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxToolIterations int     `yaml:"max_tool_iterations"`
	SystemPrompt      string  `yaml:"system_prompt"`
}

// LLMConfig configures the provider gateway.
type LLMConfig struct {
	Provider       string  `yaml:"provider"` // exposed via Get; cmd/evoagent always builds the Anthropic provider as the gateway default
	APIKey         string  `yaml:"-"`        // from env EVOAGENT_LLM_API_KEY only, never persisted
	BaseURL        string  `yaml:"base_url,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"` // token-bucket rate, 0 = unlimited
	RequestTimeout string  `yaml:"request_timeout,omitempty"`

	// Providers and Aliases drive the gateway's registry: a chat
	// request names an alias or provider directly, the gateway
	// resolves it through Aliases then looks it up in Providers,
	// lazily constructing and caching one client per resolved name.
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
	Aliases   map[string]string         `yaml:"aliases,omitempty"`
}

// ProviderConfig describes one named backend the gateway's registry
// can lazily construct a client for.
type ProviderConfig struct {
	Type      string            `yaml:"type"` // "anthropic", "mock"
	ModelID   string            `yaml:"model_id,omitempty"`
	APIKeyEnv string            `yaml:"api_key_env,omitempty"`
	BaseURL   string            `yaml:"base_url,omitempty"`
	ExtraBody map[string]string `yaml:"extra_body,omitempty"`
}

// CommunicationConfig configures channel-facing behavior such as
// do-not-disturb quiet hours.
type CommunicationConfig struct {
	QuietHoursStart string `yaml:"quiet_hours_start,omitempty"` // "HH:MM", e.g. "22:00"
	QuietHoursEnd   string `yaml:"quiet_hours_end,omitempty"`   // "HH:MM", e.g. "08:00"
}

// BudgetConfig configures the token budget used for context assembly.
type BudgetConfig struct {
	TotalTokens    int     `yaml:"total_tokens"`
	ReserveTokens  int     `yaml:"reserve_tokens"`
	CompactAtRatio float64 `yaml:"compact_at_ratio"` // default 0.85
	KeepRecent     int     `yaml:"keep_recent"`       // rounds kept verbatim after compaction (keep_recent*2 messages), default 5
}

// CronConfig configures the scheduler's poll cadence and its job list.
type CronConfig struct {
	PollInterval string `yaml:"poll_interval,omitempty"` // default "30s"
	Jobs         []Job  `yaml:"jobs,omitempty"`
}

// Job is one scheduled job entry.
type Job struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"` // standard 5-field cron expression
	Task       string `yaml:"task"`       // task identifier selecting a cmd/evoagent buildCronJobs case
}

// HeartbeatConfig configures the periodic heartbeat tick.
type HeartbeatConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"` // default 1800
	File            string `yaml:"file,omitempty"`             // workspace-relative, default "HEARTBEAT.md"
}

// ObserverConfig configures the light/deep observation cadence.
type ObserverConfig struct {
	DailyWindowStart    string `yaml:"daily_window_start,omitempty"`    // "HH:MM", default "03:00"
	DailyWindowToleranceMinutes int `yaml:"daily_window_tolerance_minutes,omitempty"` // default 30
}

// MetricsConfig holds repair-trigger settings exposed via Get;
// metrics.Tracker.ShouldTriggerRepair uses fixed thresholds and does
// not read these fields.
type MetricsConfig struct {
	RepairSuccessRateThreshold float64 `yaml:"repair_success_rate_threshold,omitempty"` // default 0.7
	RepairMinEvents            int     `yaml:"repair_min_events,omitempty"`             // default 10
}

// ChannelsConfig lists enabled channel adapters and their credentials.
type ChannelsConfig struct {
	Telegram *TelegramChannelConfig `yaml:"telegram,omitempty"`
	Discord  *DiscordChannelConfig  `yaml:"discord,omitempty"`
}

// TelegramChannelConfig configures the Telegram adapter.
type TelegramChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"-"` // from env EVOAGENT_CHANNELS_TELEGRAM_TOKEN only
}

// DiscordChannelConfig configures the Discord adapter.
type DiscordChannelConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"-"` // from env EVOAGENT_CHANNELS_DISCORD_TOKEN only
}

// TelemetryConfig configures optional OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

// Default returns a Config with every documented default applied.
func Default() *Config {
	return &Config{
		Workspace: "./workspace",
		Agent: AgentConfig{
			Model:             "claude-sonnet-4-5-20250929",
			Temperature:       0.7,
			MaxToolIterations: 12,
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			RequestTimeout: "120s",
		},
		Budget: BudgetConfig{
			TotalTokens:    180_000,
			ReserveTokens:  20_000,
			CompactAtRatio: 0.85,
			KeepRecent:     5,
		},
		Cron: CronConfig{
			PollInterval: "30s",
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 1800,
			File:            "HEARTBEAT.md",
		},
		Observer: ObserverConfig{
			DailyWindowStart:            "03:00",
			DailyWindowToleranceMinutes: 30,
		},
		Metrics: MetricsConfig{
			RepairSuccessRateThreshold: 0.7,
			RepairMinEvents:            10,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "evoagent",
		},
	}
}

// Load reads path (YAML) on top of Default(), then applies environment
// overrides, following the teacher's layered load-then-env-overlay
// pattern from internal/config/config_load.go.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// ApplyEnvOverrides overlays environment variables of the form
// EVOAGENT_<DOTPATH> (dots become underscores, uppercased) on top of
// cfg, matching the teacher's applyEnvOverrides convention. Secret
// fields (API keys, bot tokens) are ONLY ever populated this way.
func ApplyEnvOverrides(cfg *Config) {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if v := os.Getenv("EVOAGENT_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("EVOAGENT_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("EVOAGENT_AGENT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Agent.Temperature = f
		}
	}
	if v := os.Getenv("EVOAGENT_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("EVOAGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("EVOAGENT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("EVOAGENT_CHANNELS_TELEGRAM_TOKEN"); v != "" {
		if cfg.Channels.Telegram == nil {
			cfg.Channels.Telegram = &TelegramChannelConfig{Enabled: true}
		}
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("EVOAGENT_CHANNELS_DISCORD_TOKEN"); v != "" {
		if cfg.Channels.Discord == nil {
			cfg.Channels.Discord = &DiscordChannelConfig{Enabled: true}
		}
		cfg.Channels.Discord.Token = v
	}
}

// Get reads a dot-path key from the config, returning it as a string.
// Supports the leaf fields spec.md §6 calls out as dot-path accessible.
// Unknown paths return ("", false).
func (c *Config) Get(dotPath string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch strings.ToLower(dotPath) {
	case "workspace":
		return c.Workspace, true
	case "agent.model":
		return c.Agent.Model, true
	case "agent.temperature":
		return strconv.FormatFloat(c.Agent.Temperature, 'f', -1, 64), true
	case "llm.provider":
		return c.LLM.Provider, true
	case "llm.base_url":
		return c.LLM.BaseURL, true
	case "budget.total_tokens":
		return strconv.Itoa(c.Budget.TotalTokens), true
	case "budget.reserve_tokens":
		return strconv.Itoa(c.Budget.ReserveTokens), true
	case "budget.compact_at_ratio":
		return strconv.FormatFloat(c.Budget.CompactAtRatio, 'f', -1, 64), true
	case "cron.poll_interval":
		return c.Cron.PollInterval, true
	case "heartbeat.interval_seconds":
		return strconv.Itoa(c.Heartbeat.IntervalSeconds), true
	case "heartbeat.file":
		return c.Heartbeat.File, true
	case "observer.daily_window_start":
		return c.Observer.DailyWindowStart, true
	case "metrics.repair_success_rate_threshold":
		return strconv.FormatFloat(c.Metrics.RepairSuccessRateThreshold, 'f', -1, 64), true
	case "communication.quiet_hours_start":
		return c.Communication.QuietHoursStart, true
	case "communication.quiet_hours_end":
		return c.Communication.QuietHoursEnd, true
	default:
		return "", false
	}
}

// QuietHours parses Communication.QuietHoursStart/End ("HH:MM") into
// times usable with IsDnd; ok is false when either is unset or
// malformed.
func (c *Config) QuietHours() (start, end time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Communication.QuietHoursStart == "" || c.Communication.QuietHoursEnd == "" {
		return time.Time{}, time.Time{}, false
	}
	s, err1 := time.Parse("15:04", c.Communication.QuietHoursStart)
	e, err2 := time.Parse("15:04", c.Communication.QuietHoursEnd)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	return s, e, true
}

// IsDnd reports whether now's time-of-day falls inside the
// do-not-disturb window [start, end), comparing hour/minute only (the
// date components of start/end are irrelevant — pass times parsed from
// "HH:MM", as QuietHours does). Handles the window wrapping midnight
// when start is after end, e.g. 22:00 -> 08:00, per spec.md §6.
func IsDnd(now, start, end time.Time) bool {
	t := now.Hour()*60 + now.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	if s <= e {
		return t >= s && t < e
	}
	return t >= s || t < e
}

// ReplaceFrom copies every data field from src into c, preserving c's
// mutex. Nothing in this module calls it at runtime: cmd/evoagent loads
// the config once at startup and does not watch it for changes.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workspace = src.Workspace
	c.Agent = src.Agent
	c.LLM = src.LLM
	c.Budget = src.Budget
	c.Cron = src.Cron
	c.Heartbeat = src.Heartbeat
	c.Observer = src.Observer
	c.Metrics = src.Metrics
	c.Channels = src.Channels
	c.Telemetry = src.Telemetry
	c.Communication = src.Communication
}

// PollIntervalDuration parses Cron.PollInterval, defaulting to 30s (the
// original's hardcoded poll cadence) on empty/invalid input.
func (c CronConfig) PollIntervalDuration() time.Duration {
	if c.PollInterval == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RequestTimeoutDuration parses LLM.RequestTimeout, defaulting to 120s.
func (l LLMConfig) RequestTimeoutDuration() time.Duration {
	if l.RequestTimeout == "" {
		return 120 * time.Second
	}
	d, err := time.ParseDuration(l.RequestTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
