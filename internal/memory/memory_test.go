package memory

import "testing"

func TestRelevanceScore(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		content string
		wantMin float64
		wantMax float64
	}{
		{"exact substring match", "deploy pipeline", "notes about the deploy pipeline we use", 5.0, 100},
		{"partial word match scores less than exact substring", "deploy rocket", "notes about the deploy process", 0.1, 4.99},
		{"no overlap at all", "xyz123", "completely unrelated content here", 0, 0},
		{"empty query scores zero", "", "some content", 0, 0},
		{"empty content scores zero", "query", "", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relevanceScore(tt.query, tt.content)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("relevanceScore(%q, %q) = %v, want in [%v, %v]", tt.query, tt.content, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestRelevanceScore_BigramFallbackForCJK(t *testing.T) {
	// No whitespace-delimited words, so only the bigram-overlap term
	// can contribute a non-zero score.
	query := "你好世界"
	content := "你好，今天天气怎么样"
	if got := relevanceScore(query, content); got <= 0 {
		t.Errorf("relevanceScore(%q, %q) = %v, want > 0 via bigram overlap", query, content, got)
	}
}

func TestExtractSnippet(t *testing.T) {
	text := "line one of context. the important decision was made here. line three follows after."
	snippet := extractSnippet(text, "decision", 40)
	if snippet == "" {
		t.Fatal("extractSnippet returned empty for a query present in text")
	}
	if !contains(snippet, "decision") {
		t.Errorf("extractSnippet(%q) = %q, want it to contain the matched query", text, snippet)
	}
}

func TestExtractSnippet_NoMatch(t *testing.T) {
	if got := extractSnippet("nothing relevant in here", "zzzzzz", 40); got != "" {
		t.Errorf("extractSnippet with no match = %q, want empty", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
