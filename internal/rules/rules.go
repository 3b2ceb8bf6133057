// Package rules loads and scores the two-tier Markdown rule set
// (stable constitution, dynamic experience), grounded on
// original_source/core/rules.py::RulesInterpreter.
package rules

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Tier distinguishes the two rule directories.
type Tier string

const (
	TierConstitution Tier = "constitution"
	TierExperience   Tier = "experience"
)

// Rule is one Markdown rule file, per spec.md §3.
type Rule struct {
	FilePath string
	Name     string // filename stem
	Tier     Tier
	Content  string
	Keywords []string // concatenation of heading words
}

// EstimateTokens implements the Rule token estimate: len(content)/2.
func (r Rule) EstimateTokens() int { return len(r.Content) / 2 }

var headingRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

// Interpreter loads and scores rules from a workspace's rules/ tree.
type Interpreter struct {
	Constitution []Rule
	Experience   []Rule
}

// Load walks rulesRoot/constitution and rulesRoot/experience, turning
// each .md file into one Rule.
func Load(rulesRoot string) (*Interpreter, error) {
	interp := &Interpreter{}

	load := func(dir string, tier Tier) ([]Rule, error) {
		full := filepath.Join(rulesRoot, dir)
		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		var rules []Rule
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			path := filepath.Join(full, e.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			content := string(data)
			rules = append(rules, Rule{
				FilePath: path,
				Name:     strings.TrimSuffix(e.Name(), ".md"),
				Tier:     tier,
				Content:  content,
				Keywords: extractKeywords(content),
			})
		}
		return rules, nil
	}

	var err error
	if interp.Constitution, err = load(string(TierConstitution), TierConstitution); err != nil {
		return nil, err
	}
	if interp.Experience, err = load(string(TierExperience), TierExperience); err != nil {
		return nil, err
	}
	return interp, nil
}

// extractKeywords concatenates the words of every Markdown heading.
func extractKeywords(content string) []string {
	var words []string
	for _, m := range headingRe.FindAllStringSubmatch(content, -1) {
		words = append(words, strings.Fields(strings.ToLower(m[1]))...)
	}
	return words
}

// Score computes the relevance of an experience rule against a task
// query, per spec.md §4.3: exact substring containment is a strong
// bonus, keyword substring match in either direction is a medium
// bonus, word-bigram overlap with a leading slice adds 0.5 per shared
// bigram (capped at 5 bigrams), and a small positive floor keeps
// ordering stable.
func Score(rule Rule, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	content := strings.ToLower(rule.Content)

	score := 0.01 // floor

	if q != "" && strings.Contains(content, q) {
		score += 10.0
	}

	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(q, kw) || strings.Contains(kw, q) {
			score += 2.0
		}
	}

	// Bigram overlap between the query and a leading slice of the rule
	// content (capped to avoid one huge rule dominating every score).
	leading := content
	if len(leading) > 400 {
		leading = leading[:400]
	}
	overlap := bigramOverlap(q, leading)
	if overlap > 5 {
		overlap = 5
	}
	score += float64(overlap) * 0.5

	return score
}

func bigrams(s string) map[string]struct{} {
	fields := strings.Fields(s)
	out := make(map[string]struct{})
	for i := 0; i+1 < len(fields); i++ {
		out[fields[i]+" "+fields[i+1]] = struct{}{}
	}
	return out
}

func bigramOverlap(a, b string) int {
	ba, bb := bigrams(a), bigrams(b)
	count := 0
	for k := range ba {
		if _, ok := bb[k]; ok {
			count++
		}
	}
	return count
}

// BuildSections produces the constitution and experience prompt
// sections, each greedily filled within its token budget, per
// spec.md §4.3. Returns (constitutionText, constitutionTokens,
// experienceText, experienceTokens).
func (ip *Interpreter) BuildSections(query string, constitutionBudget, experienceBudget int) (string, int, string, int) {
	var cb strings.Builder
	cb.WriteString("## Core Rules\n")
	cTokens := 0
	for _, r := range ip.Constitution {
		t := r.EstimateTokens()
		if cTokens+t > constitutionBudget {
			continue
		}
		cb.WriteString(r.Content)
		cb.WriteString("\n")
		cTokens += t
	}

	ranked := make([]Rule, len(ip.Experience))
	copy(ranked, ip.Experience)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Score(ranked[i], query) > Score(ranked[j], query)
	})

	var eb strings.Builder
	eb.WriteString("## Guidance from Experience\n")
	eTokens := 0
	for _, r := range ranked {
		t := r.EstimateTokens()
		if eTokens+t > experienceBudget {
			continue
		}
		eb.WriteString(r.Content)
		eb.WriteString("\n")
		eTokens += t
	}

	return cb.String(), cTokens, eb.String(), eTokens
}
