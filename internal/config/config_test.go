package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_HasDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Budget.CompactAtRatio != 0.85 {
		t.Errorf("CompactAtRatio = %v, want 0.85", cfg.Budget.CompactAtRatio)
	}
	if cfg.Heartbeat.IntervalSeconds != 1800 {
		t.Errorf("Heartbeat.IntervalSeconds = %d, want 1800", cfg.Heartbeat.IntervalSeconds)
	}
	if cfg.Metrics.RepairSuccessRateThreshold != 0.7 {
		t.Errorf("RepairSuccessRateThreshold = %v, want 0.7", cfg.Metrics.RepairSuccessRateThreshold)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file should not error: %v", err)
	}
	if cfg.Agent.Model != Default().Agent.Model {
		t.Errorf("Model = %q, want default %q", cfg.Agent.Model, Default().Agent.Model)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "workspace: /tmp/custom\nagent:\n  model: custom-model\nbudget:\n  total_tokens: 50000\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/custom" {
		t.Errorf("Workspace = %q, want /tmp/custom", cfg.Workspace)
	}
	if cfg.Agent.Model != "custom-model" {
		t.Errorf("Model = %q, want custom-model", cfg.Agent.Model)
	}
	if cfg.Budget.TotalTokens != 50000 {
		t.Errorf("TotalTokens = %d, want 50000", cfg.Budget.TotalTokens)
	}
	// Fields untouched by the YAML keep their defaults.
	if cfg.Budget.ReserveTokens != Default().Budget.ReserveTokens {
		t.Errorf("ReserveTokens = %d, want default %d", cfg.Budget.ReserveTokens, Default().Budget.ReserveTokens)
	}
}

func TestApplyEnvOverrides_SecretsOnlyFromEnv(t *testing.T) {
	os.Setenv("EVOAGENT_LLM_API_KEY", "secret-key-value")
	os.Setenv("EVOAGENT_CHANNELS_TELEGRAM_TOKEN", "tg-token")
	defer os.Unsetenv("EVOAGENT_LLM_API_KEY")
	defer os.Unsetenv("EVOAGENT_CHANNELS_TELEGRAM_TOKEN")

	cfg := Default()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.APIKey != "secret-key-value" {
		t.Errorf("APIKey = %q, want secret-key-value", cfg.LLM.APIKey)
	}
	if cfg.Channels.Telegram == nil || cfg.Channels.Telegram.Token != "tg-token" {
		t.Fatalf("Channels.Telegram = %+v, want token tg-token", cfg.Channels.Telegram)
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("setting a telegram token via env should enable the channel")
	}
}

func TestGet_KnownAndUnknownDotPaths(t *testing.T) {
	cfg := Default()
	if got, ok := cfg.Get("agent.model"); !ok || got != cfg.Agent.Model {
		t.Errorf("Get(agent.model) = (%q, %v), want (%q, true)", got, ok, cfg.Agent.Model)
	}
	if _, ok := cfg.Get("not.a.real.path"); ok {
		t.Error("Get on an unknown dot-path should return ok=false")
	}
}

func TestReplaceFrom_CopiesAllFields(t *testing.T) {
	dst := Default()
	src := Default()
	src.Agent.Model = "replaced-model"
	src.Budget.TotalTokens = 99

	dst.ReplaceFrom(src)

	if dst.Agent.Model != "replaced-model" {
		t.Errorf("Agent.Model = %q, want replaced-model", dst.Agent.Model)
	}
	if dst.Budget.TotalTokens != 99 {
		t.Errorf("Budget.TotalTokens = %d, want 99", dst.Budget.TotalTokens)
	}
}

func TestPollIntervalDuration_DefaultsOnInvalid(t *testing.T) {
	tests := []struct {
		in   string
		want bool // true if expected default (30s)
	}{
		{"", true},
		{"not-a-duration", true},
		{"-5s", true},
		{"10s", false},
	}
	for _, tt := range tests {
		c := CronConfig{PollInterval: tt.in}
		got := c.PollIntervalDuration()
		isDefault := got.Seconds() == 30
		if isDefault != tt.want {
			t.Errorf("PollIntervalDuration(%q) = %v, want default=%v", tt.in, got, tt.want)
		}
	}
}

func TestRequestTimeoutDuration_DefaultsOnInvalid(t *testing.T) {
	l := LLMConfig{RequestTimeout: ""}
	if got := l.RequestTimeoutDuration(); got.Seconds() != 120 {
		t.Errorf("RequestTimeoutDuration() = %v, want 120s default", got)
	}
}

func TestIsDnd_MidnightWrappingWindow(t *testing.T) {
	start := time.Date(0, 1, 1, 22, 0, 0, 0, time.UTC)
	end := time.Date(0, 1, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just before midnight", time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC), true},
		{"exactly midnight", time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), true},
		{"just before window end", time.Date(2026, 7, 31, 7, 59, 0, 0, time.UTC), true},
		{"exactly window end", time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC), false},
		{"mid afternoon", time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC), false},
		{"exactly window start", time.Date(2026, 7, 31, 22, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDnd(tt.now, start, end); got != tt.want {
				t.Errorf("IsDnd(%v, 22:00, 08:00) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestIsDnd_NonWrappingWindow(t *testing.T) {
	start := time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(0, 1, 1, 17, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"inside window", time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC), true},
		{"before window", time.Date(2026, 7, 31, 8, 59, 0, 0, time.UTC), false},
		{"at window end", time.Date(2026, 7, 31, 17, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDnd(tt.now, start, end); got != tt.want {
				t.Errorf("IsDnd(%v, 09:00, 17:00) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestQuietHours_ParsesConfiguredWindow(t *testing.T) {
	cfg := Default()
	cfg.Communication.QuietHoursStart = "22:00"
	cfg.Communication.QuietHoursEnd = "08:00"
	start, end, ok := cfg.QuietHours()
	if !ok {
		t.Fatal("QuietHours should report ok=true when both fields are set")
	}
	if start.Hour() != 22 || end.Hour() != 8 {
		t.Errorf("QuietHours = (%v, %v), want (22:00, 08:00)", start, end)
	}
}

func TestQuietHours_UnsetFieldsReportNotOK(t *testing.T) {
	cfg := Default()
	if _, _, ok := cfg.QuietHours(); ok {
		t.Error("QuietHours should report ok=false when unset")
	}
}
