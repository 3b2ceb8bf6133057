// Package memory implements the tiered memory store — user-scoped and
// project-scoped semantic/episodic notes, keyword search for context
// injection — grounded on original_source/core/memory.py.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Scope narrows a Search call to one memory tier.
type Scope string

const (
	ScopeAll           Scope = "all"
	ScopeUser          Scope = "user"
	ScopeProject       Scope = "project"
	ScopeConversations Scope = "conversations"
	ScopeSummaries     Scope = "summaries"
)

// Result is one scored memory hit.
type Result struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Conversation is a saved dialogue transcript under memory/conversations.
type Conversation struct {
	ConversationID string                 `json:"conversation_id"`
	Timestamp      time.Time              `json:"timestamp"`
	Messages       []map[string]string    `json:"messages"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

const (
	userDir          = "memory/user"
	projectsDir      = "memory/projects"
	conversationsDir = "memory/conversations"
	summariesDir     = "memory/daily_summaries"
)

// Store is the tiered memory store rooted at a workspace.
type Store struct {
	w *store.Workspace
}

func NewStore(w *store.Workspace) *Store { return &Store{w: w} }

// SaveUserMemory writes/overwrites memory/user/<key>.md.
func (s *Store) SaveUserMemory(key, content string) error {
	return store.WriteFile(s.w, filepath.Join(userDir, key+".md"), content)
}

// SaveProjectMemory writes/overwrites memory/projects/<project>/<key>.md.
func (s *Store) SaveProjectMemory(project, key, content string) error {
	return store.WriteFile(s.w, filepath.Join(projectsDir, project, key+".md"), content)
}

// AppendPreference appends a dated bullet to preferences.md, seeding a
// header if the file doesn't exist yet.
func (s *Store) AppendPreference(preference string) error {
	return appendDatedBullet(s.w, filepath.Join(userDir, "preferences.md"),
		"# User Preferences\n\n> Extracted automatically from interactions.\n\n", preference, "")
}

// AppendErrorPattern appends a dated bullet to error_patterns.md.
func (s *Store) AppendErrorPattern(pattern, source string) error {
	return appendDatedBullet(s.w, filepath.Join(userDir, "error_patterns.md"),
		"# Discovered Error Patterns\n\n> Extracted automatically by the reflection engine.\n\n", pattern, source)
}

func appendDatedBullet(w *store.Workspace, rel, header, text, source string) error {
	if !store.Exists(w, rel) {
		if err := store.WriteFile(w, rel, header); err != nil {
			return err
		}
	}
	date := time.Now().UTC().Format("2006-01-02")
	sourceTag := ""
	if source != "" {
		sourceTag = fmt.Sprintf(" (from %s)", source)
	}
	return store.AppendMarkdown(w, rel, fmt.Sprintf("- [%s]%s %s\n", date, sourceTag, text))
}

// SaveConversation persists a full transcript as JSON.
func (s *Store) SaveConversation(conversationID string, messages []map[string]string, metadata map[string]interface{}) error {
	rec := Conversation{ConversationID: conversationID, Timestamp: time.Now().UTC(), Messages: messages, Metadata: metadata}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFile(s.w, filepath.Join(conversationsDir, conversationID+".json"), string(data))
}

// SaveDailySummary writes a Markdown daily summary.
func (s *Store) SaveDailySummary(date, summary string) error {
	return store.WriteFile(s.w, filepath.Join(summariesDir, date+".md"), summary)
}

// GetUserPreferences returns preferences.md's content, or "" if absent.
func (s *Store) GetUserPreferences() string {
	content, _ := store.ReadFile(s.w, filepath.Join(userDir, "preferences.md"))
	return content
}

// GetUserProfile returns profile.md's content, or "" if absent.
func (s *Store) GetUserProfile() string {
	content, _ := store.ReadFile(s.w, filepath.Join(userDir, "profile.md"))
	return content
}

// GetSemanticMemory returns MEMORY.md's content, or "" if absent.
func (s *Store) GetSemanticMemory() string {
	content, _ := store.ReadFile(s.w, filepath.Join(userDir, "MEMORY.md"))
	return content
}

var datedLineRe = regexp.MustCompile(`^- \[(\d{4}-\d{2}-\d{2})\]`)

// GetRecentErrors returns error_patterns.md filtered to entries dated
// within the trailing `days` days, keeping headers and non-bullet lines.
func (s *Store) GetRecentErrors(days int) string {
	content, _ := store.ReadFile(s.w, filepath.Join(userDir, "error_patterns.md"))
	if content == "" {
		return ""
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")

	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if m := datedLineRe.FindStringSubmatch(line); m != nil {
			if m[1] >= cutoff {
				kept = append(kept, line)
			}
			continue
		}
		if !strings.HasPrefix(line, "- [") {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// GetProjectContext returns a project's context.md, or "" if absent.
func (s *Store) GetProjectContext(project string) string {
	content, _ := store.ReadFile(s.w, filepath.Join(projectsDir, project, "context.md"))
	return content
}

// GetDailySummary returns a date's summary, or "" if absent.
func (s *Store) GetDailySummary(date string) string {
	content, _ := store.ReadFile(s.w, filepath.Join(summariesDir, date+".md"))
	return content
}

// Search keyword-scores candidates across the requested scope and
// returns the top maxResults, highest score first.
func (s *Store) Search(query string, scope Scope, project string, maxResults int) []Result {
	var candidates []Result

	if scope == ScopeAll || scope == ScopeUser {
		candidates = append(candidates, s.scanMarkdown(userDir)...)
	}
	if (scope == ScopeAll || scope == ScopeProject) && project != "" {
		candidates = append(candidates, s.scanMarkdown(filepath.Join(projectsDir, project))...)
	}
	if scope == ScopeAll || scope == ScopeSummaries {
		candidates = append(candidates, s.scanMarkdown(summariesDir)...)
	}
	if scope == ScopeAll || scope == ScopeConversations {
		candidates = append(candidates, s.scanConversations(query)...)
	}

	var scored []Result
	for _, c := range candidates {
		score := relevanceScore(query, c.Content)
		if score > 0 {
			scored = append(scored, Result{Source: c.Source, Content: c.Content, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if maxResults > 0 && len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored
}

// GetRelevantMemories is Search(scope=all) reduced to content strings,
// the convenience shape context.Engine.Assemble consumes.
func (s *Store) GetRelevantMemories(query, project string, maxResults int) []string {
	results := s.Search(query, ScopeAll, project, maxResults)
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out
}

func (s *Store) scanMarkdown(rel string) []Result {
	dir, err := s.w.Resolve(rel)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Result
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		content, err := store.ReadFile(s.w, filepath.Join(rel, e.Name()))
		if err != nil || strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, Result{Source: filepath.Join(rel, e.Name()), Content: content})
	}
	return out
}

const maxScannedConversations = 50

func (s *Store) scanConversations(query string) []Result {
	dir, err := s.w.Resolve(conversationsDir)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type fileInfo struct {
		name    string
		modTime time.Time
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	if len(files) > maxScannedConversations {
		files = files[:maxScannedConversations]
	}

	var out []Result
	for _, f := range files {
		content, err := store.ReadFile(s.w, filepath.Join(conversationsDir, f.name))
		if err != nil {
			continue
		}
		var rec Conversation
		if json.Unmarshal([]byte(content), &rec) != nil {
			continue
		}
		var texts []string
		for _, m := range rec.Messages {
			texts = append(texts, m["content"])
		}
		full := strings.Join(texts, "\n")
		if strings.TrimSpace(full) == "" {
			continue
		}
		if snippet := extractSnippet(full, query, 500); snippet != "" {
			out = append(out, Result{Source: filepath.Join(conversationsDir, f.name), Content: snippet})
		}
	}
	return out
}

// extractSnippet centers a ~maxChars window on the first match of
// query (full string, then word, then bigram) within text.
func extractSnippet(text, query string, maxChars int) string {
	queryLower := strings.ToLower(query)
	textLower := strings.ToLower(text)

	pos := strings.Index(textLower, queryLower)
	if pos == -1 {
		for _, word := range strings.Fields(queryLower) {
			if len(word) >= 2 {
				if p := strings.Index(textLower, word); p >= 0 {
					pos = p
					break
				}
			}
		}
	}
	if pos == -1 {
		for _, bg := range bigrams(queryLower) {
			if p := strings.Index(textLower, bg); p >= 0 {
				pos = p
				break
			}
		}
	}
	if pos == -1 {
		return ""
	}

	start := pos - maxChars/2
	if start < 0 {
		start = 0
	}
	end := pos + maxChars/2
	if end > len(text) {
		end = len(text)
	}
	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

func bigrams(s string) []string {
	if len(s) < 2 {
		return nil
	}
	out := make([]string, 0, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		out = append(out, s[i:i+2])
	}
	return out
}

// relevanceScore mirrors memory.py's MVP scoring: whole-query
// substring match, per-word matches, and bigram overlap (capturing
// CJK queries that don't tokenize on whitespace).
func relevanceScore(query, content string) float64 {
	if query == "" || content == "" {
		return 0
	}
	queryLower := strings.ToLower(query)
	contentLower := strings.ToLower(content)
	if len(contentLower) > 1000 {
		contentLower = contentLower[:1000]
	}

	var score float64
	if strings.Contains(contentLower, queryLower) {
		score += 5.0
	}
	for _, word := range strings.Fields(queryLower) {
		if len(word) >= 2 && strings.Contains(contentLower, word) {
			score += 2.0
		}
	}

	queryBigrams := map[string]bool{}
	for _, bg := range bigrams(queryLower) {
		queryBigrams[bg] = true
	}
	if len(queryBigrams) > 0 {
		contentBigrams := map[string]bool{}
		for _, bg := range bigrams(contentLower) {
			contentBigrams[bg] = true
		}
		overlap := 0
		for bg := range queryBigrams {
			if contentBigrams[bg] {
				overlap++
			}
		}
		bonus := float64(overlap) * 0.3
		if bonus > 3.0 {
			bonus = 3.0
		}
		score += bonus
	}
	return score
}
