// Package jsonx provides the tolerant JSON extraction shared by every
// component that parses an LLM's free-form reply as JSON: the text
// itself when it starts with { or [, then a fenced ```json code block,
// then the widest bracketed range. Grounded on the repeated parsing helper in
// original_source/core/architect.py, core/council.py and
// extensions/compaction.py.
package jsonx

import "regexp"

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	bracketRe     = regexp.MustCompile(`(?s)[\[{].*[\]}]`)
)

// Extract returns the best-guess JSON payload within text: the whole
// text if it looks parseable as-is, else the content of the first
// fenced code block, else the widest bracketed range, else "".
func Extract(text string) string {
	if looksLikeJSON(text) {
		return text
	}
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		inner := m[1]
		if looksLikeJSON(inner) {
			return inner
		}
		if b := bracketRe.FindString(inner); b != "" {
			return b
		}
	}
	if b := bracketRe.FindString(text); b != "" {
		return b
	}
	return ""
}

func looksLikeJSON(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}
