package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/llm"
)

func TestShouldCompact(t *testing.T) {
	tests := []struct {
		name    string
		current int
		budget  int
		want    bool
	}{
		{"zero budget never compacts", 1000, 0, false},
		{"below threshold", 800, 1000, false},
		{"exactly at threshold", 850, 1000, true},
		{"above threshold", 950, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCompact(tt.current, tt.budget); got != tt.want {
				t.Errorf("ShouldCompact(%d, %d) = %v, want %v", tt.current, tt.budget, got, tt.want)
			}
		})
	}
}

func TestCompact_ShortHistoryPassesThroughUnchanged(t *testing.T) {
	history := []llm.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	res := Compact(context.Background(), nil, history, 5) // keepRecent*2=10 > len(history)

	if len(res.CompactedHistory) != len(history) {
		t.Fatalf("CompactedHistory len = %d, want %d (unchanged)", len(res.CompactedHistory), len(history))
	}
	if res.Stats.CompressionRatio != 1.0 {
		t.Errorf("CompressionRatio = %v, want 1.0", res.Stats.CompressionRatio)
	}
	if res.Stats.Quality != "good" {
		t.Errorf("Quality = %q, want good for a no-op compaction", res.Stats.Quality)
	}
	if res.Stats.OldMessageCount != 0 {
		t.Errorf("OldMessageCount = %d, want 0", res.Stats.OldMessageCount)
	}
}

func TestCompact_LongHistoryWithNilGatewayFallsBackToTruncation(t *testing.T) {
	var history []llm.Message
	for i := 0; i < 10; i++ {
		history = append(history, llm.Message{Role: "user", Content: "message content here"})
	}
	res := Compact(context.Background(), nil, history, 2) // tail = 4

	if len(res.CompactedHistory) != 1+4 {
		t.Fatalf("CompactedHistory len = %d, want 5 (1 summary + 4 recent)", len(res.CompactedHistory))
	}
	if res.CompactedHistory[0].Role != "system" {
		t.Errorf("first compacted message role = %q, want system", res.CompactedHistory[0].Role)
	}
	if res.Summary == "" {
		t.Error("Summary should not be empty (truncated fallback should fill it)")
	}
	if res.Stats.OldMessageCount != 6 || res.Stats.RecentMessageCount != 4 {
		t.Errorf("OldMessageCount/RecentMessageCount = %d/%d, want 6/4", res.Stats.OldMessageCount, res.Stats.RecentMessageCount)
	}
}

func TestTolerantParseFlushItems(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"direct array", `[{"type":"decision","content":"use postgres"}]`, 1},
		{"fenced array", "```json\n[{\"type\":\"todo\",\"content\":\"write docs\"}]\n```", 1},
		{"garbage text", "no json anywhere", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tolerantParseFlushItems(tt.in)
			if len(got) != tt.want {
				t.Errorf("tolerantParseFlushItems(%q) = %d items, want %d", tt.in, len(got), tt.want)
			}
		})
	}
}

func TestVerifyQuality_NoMarkersIsGood(t *testing.T) {
	old := []llm.Message{{Role: "user", Content: "just chatting about the weather"}}
	if got := verifyQuality(old, "it was sunny", nil); got != "good" {
		t.Errorf("verifyQuality with no markers = %q, want good", got)
	}
}

func TestVerifyQuality_AllMarkersCapturedIsGood(t *testing.T) {
	old := []llm.Message{{Role: "user", Content: "We made a decision to ship Friday."}}
	summary := "Team made a decision to ship Friday."
	if got := verifyQuality(old, summary, nil); got != "good" {
		t.Errorf("verifyQuality with marker present in summary = %q, want good", got)
	}
}

func TestVerifyQuality_MissingMarkersIsPoor(t *testing.T) {
	old := []llm.Message{{Role: "user", Content: "There's a todo to clean up the deadline list, another deadline looms, final decision unclear."}}
	if got := verifyQuality(old, "unrelated summary text", nil); got == "good" {
		t.Errorf("verifyQuality with no markers captured = %q, want acceptable or poor", got)
	}
}

func TestFlushLogLine_ProducesValidJSON(t *testing.T) {
	item := FlushItem{Type: "fact", Content: "uses go 1.25"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	data, err := FlushLogLine(item, now)
	if err != nil {
		t.Fatalf("FlushLogLine: %v", err)
	}
	if !contains(string(data), `"type":"fact"`) {
		t.Errorf("FlushLogLine output = %s, want it to contain the type field", data)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
