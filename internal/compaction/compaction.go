// Package compaction implements history compaction once the context
// budget crosses 85% usage, grounded on
// original_source/extensions/context/compaction.py.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/jsonx"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
)

// FlushItem is one "worth remembering" item extracted from the old
// prefix before it's summarized away.
type FlushItem struct {
	Type    string `json:"type"` // decision, fact, preference, todo
	Content string `json:"content"`
}

// Stats reports what a Compact call did.
type Stats struct {
	OldMessageCount    int
	RecentMessageCount int
	FlushedCount       int
	CompressionRatio   float64
	Quality            string // good, acceptable, poor
}

// Result is the output of Compact.
type Result struct {
	CompactedHistory []llm.Message
	Summary          string
	FlushedToMemory  []FlushItem
	Stats            Stats
}

// ShouldCompact is true when current usage is at or above 85% of
// budget and budget is positive.
func ShouldCompact(current, budget int) bool {
	if budget <= 0 {
		return false
	}
	return float64(current) >= 0.85*float64(budget)
}

// EstimateTokens mirrors llm.EstimateTokens (dual ASCII/non-ASCII rule).
func EstimateTokens(text string) int { return llm.EstimateTokens(text) }

// Compact splits history into an old prefix and a recent tail of
// keepRecent*2 messages. If history is already within the tail size it
// is returned unchanged with a 1.0 compression ratio.
func Compact(ctx context.Context, gw *llm.Gateway, history []llm.Message, keepRecent int) Result {
	tailSize := keepRecent * 2
	if len(history) <= tailSize {
		return Result{
			CompactedHistory: history,
			Stats:            Stats{OldMessageCount: 0, RecentMessageCount: len(history), CompressionRatio: 1.0, Quality: "good"},
		}
	}

	old := history[:len(history)-tailSize]
	recent := history[len(history)-tailSize:]

	flushed := extractFlushItems(ctx, gw, old)

	summary := summarizeOld(ctx, gw, old)
	if summary == "" {
		summary = truncatedFallback(old)
	}

	summaryMsg := llm.Message{Role: "system", Content: summary}
	compacted := append([]llm.Message{summaryMsg}, recent...)

	quality := verifyQuality(old, summary, flushed)

	return Result{
		CompactedHistory: compacted,
		Summary:          summary,
		FlushedToMemory:  flushed,
		Stats: Stats{
			OldMessageCount:    len(old),
			RecentMessageCount: len(recent),
			FlushedCount:       len(flushed),
			CompressionRatio:   float64(len(compacted)) / float64(len(history)),
			Quality:            quality,
		},
	}
}

func oldPrefixText(old []llm.Message) string {
	var b strings.Builder
	for _, m := range old {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func extractFlushItems(ctx context.Context, gw *llm.Gateway, old []llm.Message) []FlushItem {
	if gw == nil {
		return nil
	}
	prompt := "Extract items worth remembering from this conversation as a JSON array of " +
		"{\"type\": \"decision|fact|preference|todo\", \"content\": \"...\"}. " +
		"Return only the JSON array.\n\n" + oldPrefixText(old)

	resp, err := gw.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 1024})
	if err != nil || resp == nil {
		return nil
	}
	return tolerantParseFlushItems(resp.Content)
}

// tolerantParseFlushItems tries direct JSON, then a fenced code block,
// then the widest bracketed range (via jsonx.Extract); invalid
// input yields an empty slice (never an error — callers treat this as
// "nothing found").
func tolerantParseFlushItems(text string) []FlushItem {
	var items []FlushItem
	candidate := jsonx.Extract(text)
	if candidate == "" {
		return nil
	}
	if json.Unmarshal([]byte(candidate), &items) == nil {
		return items
	}
	return nil
}

func summarizeOld(ctx context.Context, gw *llm.Gateway, old []llm.Message) string {
	if gw == nil {
		return ""
	}
	prompt := "Summarize the key decisions, facts and open items from this conversation " +
		"in a few compact sentences:\n\n" + oldPrefixText(old)
	resp, err := gw.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 512})
	if err != nil || resp == nil {
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

func truncatedFallback(old []llm.Message) string {
	text := oldPrefixText(old)
	if len(text) > 500 {
		return text[:500]
	}
	return text
}

var decisionMarkerRe = regexp.MustCompile(`(?i)\b(decision|deadline|todo)\b[^.\n]{0,80}`)

// verifyQuality heuristically extracts "key decisions" from the old
// prefix and counts how many appear in summary ∪ flushed. Advisory
// only — it never gates the return value.
func verifyQuality(old []llm.Message, summary string, flushed []FlushItem) string {
	text := oldPrefixText(old)
	markers := decisionMarkerRe.FindAllString(text, -1)
	if len(markers) == 0 {
		return "good"
	}

	haystack := strings.ToLower(summary)
	for _, f := range flushed {
		haystack += " " + strings.ToLower(f.Content)
	}

	found := 0
	for _, m := range markers {
		if strings.Contains(haystack, strings.ToLower(strings.TrimSpace(m))) {
			found++
		}
	}
	ratio := float64(found) / float64(len(markers))
	switch {
	case ratio >= 1.0:
		return "good"
	case ratio >= 0.7:
		return "acceptable"
	default:
		return "poor"
	}
}

// FlushLogLine renders one flush item as a JSONL line with a timestamp
// for the compaction_flush.jsonl log, matching spec.md §6's layout.
func FlushLogLine(item FlushItem, now time.Time) ([]byte, error) {
	rec := struct {
		Type      string    `json:"type"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}{item.Type, item.Content, now}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("compaction: marshal flush item: %w", err)
	}
	return data, nil
}
