// Package council runs a fixed four-role adversarial review over a
// level>=2 architect proposal, grounded on
// original_source/core/council.py.
package council

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/goclaw/internal/jsonx"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
)

// Role is one of the four fixed council perspectives, per spec.md §4.11.
type Role string

const (
	RoleSafety        Role = "safety"
	RoleEfficiency    Role = "efficiency"
	RoleUserExperience Role = "user_experience"
	RoleLongTerm      Role = "long_term"
)

var allRoles = []Role{RoleSafety, RoleEfficiency, RoleUserExperience, RoleLongTerm}

// Opinion is one role's verdict on the proposal.
type Opinion struct {
	Role           Role   `json:"role"`
	Concern        string `json:"concern"`
	Recommendation string `json:"recommendation"` // approve, reject, revise
	Failed         bool   `json:"failed,omitempty"`
}

// Conclusion is the council's overall verdict.
type Conclusion string

const (
	ConclusionApprove      Conclusion = "approve"
	ConclusionReject       Conclusion = "reject"
	ConclusionNeedsRevision Conclusion = "needs_revision"
)

// Review is the full council output attached to a proposal's
// council_review field.
type Review struct {
	Opinions   []Opinion  `json:"opinions"`
	Conclusion Conclusion `json:"conclusion"`
	Summary    string     `json:"summary"`
}

// ProposalSummary is the subset of an architect proposal the council
// needs to see; kept decoupled so council never imports architect.
type ProposalSummary struct {
	Problem        string
	Solution       string
	FilesAffected  []string
	BlastRadius    string
	ExpectedEffect string
}

var opinionLineRe = regexp.MustCompile(`(?i)concern\s*[:=]\s*(.+?)[\n;]\s*recommendation\s*[:=]\s*(approve|reject|revise)`)

// RunCouncilReview asks each of the four roles independently, in
// isolation from the others' failures — a role whose call errors or
// returns unparsable output contributes a "failed" opinion rather than
// aborting the whole review — then asks for a final JSON conclusion,
// defaulting to needs_revision if that call also fails.
func RunCouncilReview(ctx context.Context, gw *llm.Gateway, p ProposalSummary) Review {
	opinions := make([]Opinion, 0, len(allRoles))
	for _, role := range allRoles {
		opinions = append(opinions, askRole(ctx, gw, role, p))
	}

	conclusion, summary := finalConclusion(ctx, gw, p, opinions)
	return Review{Opinions: opinions, Conclusion: conclusion, Summary: summary}
}

func askRole(ctx context.Context, gw *llm.Gateway, role Role, p ProposalSummary) Opinion {
	if gw == nil {
		return Opinion{Role: role, Failed: true, Recommendation: "revise"}
	}
	prompt := buildRolePrompt(role, p)
	resp, err := gw.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 256})
	if err != nil || resp == nil {
		return Opinion{Role: role, Failed: true, Recommendation: "revise"}
	}
	return parseOpinion(role, resp.Content)
}

func buildRolePrompt(role Role, p ProposalSummary) string {
	var roleFocus string
	switch role {
	case RoleSafety:
		roleFocus = "Could this change break existing behavior or introduce a regression?"
	case RoleEfficiency:
		roleFocus = "Does this change add unnecessary cost (tokens, latency, complexity)?"
	case RoleUserExperience:
		roleFocus = "Does this change make the agent's behavior worse for the end user?"
	case RoleLongTerm:
		roleFocus = "Does this change create technical debt or conflict with constitution rules?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing a proposed self-modification from the %s perspective. %s\n\n", role, roleFocus)
	fmt.Fprintf(&b, "Problem: %s\nSolution: %s\nFiles affected: %v\nBlast radius: %s\nExpected effect: %s\n\n",
		p.Problem, p.Solution, p.FilesAffected, p.BlastRadius, p.ExpectedEffect)
	b.WriteString("Reply with: concern: <one sentence>\nrecommendation: approve|reject|revise")
	return b.String()
}

// parseOpinion lenient-parses "concern: ...\nrecommendation: ..." text,
// falling back to a JSON object, falling back to a failed opinion.
func parseOpinion(role Role, text string) Opinion {
	if m := opinionLineRe.FindStringSubmatch(text); m != nil {
		return Opinion{Role: role, Concern: strings.TrimSpace(m[1]), Recommendation: normalizeRecommendation(m[2])}
	}
	candidate := jsonx.Extract(text)
	if candidate != "" {
		var parsed struct {
			Concern        string `json:"concern"`
			Recommendation string `json:"recommendation"`
		}
		if json.Unmarshal([]byte(candidate), &parsed) == nil && parsed.Recommendation != "" {
			return Opinion{Role: role, Concern: parsed.Concern, Recommendation: normalizeRecommendation(parsed.Recommendation)}
		}
	}
	return Opinion{Role: role, Failed: true, Recommendation: "revise", Concern: strings.TrimSpace(text)}
}

func normalizeRecommendation(r string) string {
	r = strings.ToLower(strings.TrimSpace(r))
	switch r {
	case "approve", "reject", "revise":
		return r
	default:
		return "revise"
	}
}

func finalConclusion(ctx context.Context, gw *llm.Gateway, p ProposalSummary, opinions []Opinion) (Conclusion, string) {
	if gw == nil {
		return ConclusionNeedsRevision, ""
	}
	var b strings.Builder
	b.WriteString("Given these four role opinions on a proposed change, return a strict JSON object " +
		"{\"conclusion\": \"approve|reject|needs_revision\", \"summary\": \"one sentence summarizing the decision\"}.\n\n")
	for _, o := range opinions {
		fmt.Fprintf(&b, "- [%s] recommendation=%s concern=%s\n", o.Role, o.Recommendation, o.Concern)
	}
	resp, err := gw.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: b.String()}}, MaxTokens: 128})
	if err != nil || resp == nil {
		return ConclusionNeedsRevision, ""
	}
	candidate := jsonx.Extract(resp.Content)
	if candidate == "" {
		return ConclusionNeedsRevision, ""
	}
	var parsed struct {
		Conclusion string `json:"conclusion"`
		Summary    string `json:"summary"`
	}
	if json.Unmarshal([]byte(candidate), &parsed) != nil {
		return ConclusionNeedsRevision, ""
	}
	switch Conclusion(strings.ToLower(parsed.Conclusion)) {
	case ConclusionApprove:
		return ConclusionApprove, parsed.Summary
	case ConclusionReject:
		return ConclusionReject, parsed.Summary
	default:
		return ConclusionNeedsRevision, parsed.Summary
	}
}
