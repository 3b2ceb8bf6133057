package llm

import (
	"context"
	"strings"
)

// MockProvider is a deterministic, canned-response test double,
// grounded on original_source/core/llm_client.py::MockLLMClient —
// the Python original's mock returns a fixed or queued response so
// tests for reflection/compaction/council don't need network access.
type MockProvider struct {
	Responses []string // consumed in order; last one repeats once exhausted
	next      int
	Calls     []ChatRequest
}

func (m *MockProvider) Name() string        { return "mock" }
func (m *MockProvider) DefaultModel() string { return "mock-1" }

func (m *MockProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	m.Calls = append(m.Calls, req)

	var content string
	if len(m.Responses) == 0 {
		content = mockEcho(req)
	} else {
		idx := m.next
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		} else {
			m.next++
		}
		content = m.Responses[idx]
	}

	return &ChatResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: estimateTokens(req), CompletionTokens: len(content) / 4, TotalTokens: estimateTokens(req) + len(content)/4},
	}, nil
}

func mockEcho(req ChatRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return "ack: " + strings.TrimSpace(req.Messages[len(req.Messages)-1].Content)
}

func estimateTokens(req ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// EstimateTokens implements the dual ASCII/non-ASCII heuristic from
// extensions/context/compaction.py: chars/2 when more than 20% of the
// characters are non-ASCII (CJK-heavy), chars/4 otherwise.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	nonASCII := 0
	total := 0
	for _, r := range text {
		total++
		if r > 127 {
			nonASCII++
		}
	}
	if total == 0 {
		return 0
	}
	if float64(nonASCII)/float64(total) > 0.2 {
		return total / 2
	}
	return total / 4
}
