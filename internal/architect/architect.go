// Package architect turns repeated signals and metrics regressions
// into reviewed, backed-up, verifiable file modifications, grounded on
// original_source/core/architect.py.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goclaw/internal/council"
	"github.com/nextlevelbuilder/goclaw/internal/jsonx"
	"github.com/nextlevelbuilder/goclaw/internal/llm"
	"github.com/nextlevelbuilder/goclaw/internal/metrics"
	"github.com/nextlevelbuilder/goclaw/internal/rollback"
	"github.com/nextlevelbuilder/goclaw/internal/signals"
	"github.com/nextlevelbuilder/goclaw/internal/store"
)

// Status is a proposal's lifecycle state, per spec.md §3.
type Status string

const (
	StatusNew               Status = "new"
	StatusPendingApproval   Status = "pending_approval"
	StatusPendingDiscussion Status = "pending_discussion"
	StatusExecuted          Status = "executed"
	StatusVerifying         Status = "verifying"
	StatusValidated         Status = "validated"
	StatusRolledBack        Status = "rolled_back"
	StatusRejected          Status = "rejected"
	StatusNeedsRevision     Status = "needs_revision"
	StatusFailed            Status = "failed"
)

// Level is the blast-radius-derived approval tier, per spec.md §4.10.
type Level int

const (
	LevelAutoApprove       Level = 0 // trivial: executes without review
	LevelCouncilReview     Level = 1 // small: still auto-executes, no council gate
	LevelCouncilPlusWarn   Level = 2 // medium: council review, then human pending_approval
	LevelHumanApprovalOnly Level = 3 // large: council review, then human pending_discussion
)

// blastRadius enumerates the documented blast_radius vocabulary, per
// spec.md §3.
const (
	BlastRadiusTrivial = "trivial"
	BlastRadiusSmall   = "small"
	BlastRadiusMedium  = "medium"
	BlastRadiusLarge   = "large"
)

// radiusLevel maps a blast_radius string to its base approval level,
// per spec.md §4.10.
var radiusLevel = map[string]Level{
	BlastRadiusTrivial: LevelAutoApprove,
	BlastRadiusSmall:   LevelCouncilReview,
	BlastRadiusMedium:  LevelCouncilPlusWarn,
	BlastRadiusLarge:   LevelHumanApprovalOnly,
}

// maxFilesByLevel caps files_affected per level before it escalates to
// the next level, per spec.md §4.10.
var maxFilesByLevel = map[Level]int{
	LevelAutoApprove:     1,
	LevelCouncilReview:   3,
	LevelCouncilPlusWarn: 5,
}

// CouncilReview summarizes the council's verdict on a proposal, set
// only when level >= 2.
type CouncilReview struct {
	Conclusion string   `json:"conclusion"` // approve, reject, needs_revision
	Summary    string   `json:"summary,omitempty"`
	Concerns   []string `json:"concerns,omitempty"`
}

// Proposal is one architect-generated modification, per spec.md §3.
type Proposal struct {
	ProposalID          string             `json:"proposal_id"`
	Level               Level              `json:"level"`
	TriggerSource       string             `json:"trigger_source"`
	Problem             string             `json:"problem"`
	Solution            string             `json:"solution"`
	FilesAffected       []string           `json:"files_affected"`
	BlastRadius         string             `json:"blast_radius"`
	ExpectedEffect      string             `json:"expected_effect"`
	VerificationMethod  string             `json:"verification_method"`
	VerificationDays    int                `json:"verification_days"`
	RollbackPlan        string             `json:"rollback_plan"`
	NewContent          map[string]string  `json:"new_content"` // file path -> full replacement content
	Status              Status             `json:"status"`
	CreatedAt           time.Time          `json:"created_at"`
	ExecutedAt          *time.Time         `json:"executed_at,omitempty"`
	BackupID            string             `json:"backup_id,omitempty"`
	CouncilReview       *CouncilReview     `json:"council_review,omitempty"`
	BaselineSuccessRate float64            `json:"baseline_success_rate,omitempty"`
}

const proposalsFile = "proposals/proposals.jsonl"

// Engine analyzes signals and metrics, proposes modifications, and
// drives them through execution and verification.
type Engine struct {
	w        *store.Workspace
	gw       *llm.Gateway
	sigStore *signals.Store
	tracker  *metrics.Tracker
	backups  *rollback.Manager
}

func NewEngine(w *store.Workspace, gw *llm.Gateway, sigStore *signals.Store, tracker *metrics.Tracker, backups *rollback.Manager) *Engine {
	return &Engine{w: w, gw: gw, sigStore: sigStore, tracker: tracker, backups: backups}
}

func newProposalID(now time.Time) string {
	return fmt.Sprintf("prop_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

const deepReportsDir = "observations/deep_reports"

// latestDeepReport returns the content of the most recent deep report
// (deep reports are named by date, so the lexically-last .md name is
// the latest), or "" if none has been written yet.
func (e *Engine) latestDeepReport() (string, error) {
	names, err := store.ListDir(e.w, deepReportsDir)
	if err != nil {
		return "", err
	}
	var latest string
	for _, n := range names {
		if strings.HasSuffix(n, ".md") {
			latest = n // ListDir returns names sorted, so the last .md wins
		}
	}
	if latest == "" {
		return "", nil
	}
	return store.ReadFile(e.w, deepReportsDir+"/"+latest)
}

// AnalyzeAndPropose loads the latest deep report (returning no
// proposals if one hasn't been written yet, per spec.md §4.10 step 1),
// asks the LLM for a JSON array of candidate proposals based on it and
// recent signals, assigns each an id/level/status, and appends them to
// proposals.jsonl.
func (e *Engine) AnalyzeAndPropose(ctx context.Context, triggerSource string) ([]Proposal, error) {
	deepReport, err := e.latestDeepReport()
	if err != nil {
		return nil, err
	}
	if deepReport == "" {
		return nil, nil
	}

	var activeSignals []signals.Signal
	if e.sigStore != nil {
		activeSignals, err = e.sigStore.GetActive(signals.Filters{})
		if err != nil {
			return nil, err
		}
	}
	if len(activeSignals) == 0 {
		return nil, nil
	}

	prompt := buildProposalPrompt(triggerSource, deepReport, activeSignals)
	resp, err := e.gw.Chat(ctx, llm.ChatRequest{Messages: []llm.Message{{Role: "user", Content: prompt}}, MaxTokens: 4096})
	if err != nil || resp == nil {
		return nil, err
	}

	drafts := tolerantParseProposals(resp.Content)
	now := time.Now().UTC()
	var out []Proposal
	for _, d := range drafts {
		d.ProposalID = newProposalID(now)
		d.TriggerSource = triggerSource
		d.CreatedAt = now
		d.Level = determineApprovalLevel(d)
		d.Status = StatusNew
		if err := store.AppendJSONL(e.w, proposalsFile, d); err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func buildProposalPrompt(triggerSource, deepReport string, sigs []signals.Signal) string {
	var b strings.Builder
	b.WriteString("Given the latest deep analysis report and these unresolved signals, propose file " +
		"modifications as a JSON array of objects {\"problem\":\"...\",\"solution\":\"...\"," +
		"\"files_affected\":[\"...\"],\"blast_radius\":\"trivial|small|medium|large\"," +
		"\"expected_effect\":\"...\",\"verification_method\":\"...\",\"verification_days\":N,\"rollback_plan\":\"...\"," +
		"\"new_content\":{\"path\":\"full file content\"}}. Return only the JSON array.\n\n")
	fmt.Fprintf(&b, "Trigger: %s\n\n", triggerSource)
	b.WriteString("Deep report:\n")
	b.WriteString(deepReport)
	b.WriteString("\n\nSignals:\n")
	for _, s := range sigs {
		fmt.Fprintf(&b, "- [%s/%s] %s\n", s.Priority, s.SignalType, s.Description)
	}
	return b.String()
}

// tolerantParseProposals parses the LLM's proposal array using the
// shared direct->fenced->bracket extraction (jsonx.Extract).
func tolerantParseProposals(text string) []Proposal {
	candidate := jsonx.Extract(text)
	if candidate == "" {
		return nil
	}
	var drafts []Proposal
	if json.Unmarshal([]byte(candidate), &drafts) != nil {
		return nil
	}
	return drafts
}

// determineApprovalLevel maps blast_radius to its base radius level,
// then escalates one level at a time while files_affected exceeds that
// level's max-files cap, per spec.md §4.10. An unrecognized blast_radius
// is treated as medium, never as trivial. files_affected > 5 or
// blast_radius == large always forces level 3, regardless of the radius
// mapping.
func determineApprovalLevel(p Proposal) Level {
	radius := strings.ToLower(strings.TrimSpace(p.BlastRadius))
	if len(p.FilesAffected) > 5 || radius == BlastRadiusLarge {
		return LevelHumanApprovalOnly
	}

	level, ok := radiusLevel[radius]
	if !ok {
		level = LevelCouncilPlusWarn
	}
	for {
		maxFiles, capped := maxFilesByLevel[level]
		if !capped || len(p.FilesAffected) <= maxFiles || level >= LevelHumanApprovalOnly {
			return level
		}
		level++
	}
}

// ApplyCouncilReview runs the council for level >= 2 proposals only
// and records the verdict. Council approval is not execution
// authority: per spec.md §4.10, it only advances the proposal to a
// human gate — pending_approval for level 2, pending_discussion for
// level 3 — and no file mutation happens here either way.
func (e *Engine) ApplyCouncilReview(ctx context.Context, p *Proposal) error {
	if p.Level < LevelCouncilPlusWarn {
		return nil // levels 0-1 auto-execute without a council gate
	}
	review := council.RunCouncilReview(ctx, e.gw, council.ProposalSummary{
		Problem: p.Problem, Solution: p.Solution, FilesAffected: p.FilesAffected,
		BlastRadius: p.BlastRadius, ExpectedEffect: p.ExpectedEffect,
	})

	concerns := make([]string, 0, len(review.Opinions))
	for _, o := range review.Opinions {
		if o.Concern != "" {
			concerns = append(concerns, string(o.Role)+": "+o.Concern)
		}
	}
	p.CouncilReview = &CouncilReview{Conclusion: string(review.Conclusion), Summary: review.Summary, Concerns: concerns}

	switch review.Conclusion {
	case council.ConclusionApprove:
		if p.Level == LevelCouncilPlusWarn {
			p.Status = StatusPendingApproval
		} else {
			p.Status = StatusPendingDiscussion
		}
	case council.ConclusionReject:
		p.Status = StatusRejected
	default:
		p.Status = StatusNeedsRevision
	}
	return e.appendUpdatedProposal(*p)
}

// ExecuteProposal backs up every affected file, writes NewContent for
// each, and passes the proposal through executed before verifying.
// Only level 0/1 proposals in status new may auto-execute; level 2/3
// proposals require a human approval step this engine never performs.
func (e *Engine) ExecuteProposal(p *Proposal) error {
	if p.Level > LevelCouncilReview {
		return fmt.Errorf("architect: proposal %s (level %d) requires human approval, cannot auto-execute", p.ProposalID, p.Level)
	}
	if p.Status != StatusNew {
		return fmt.Errorf("architect: proposal %s is not new (status=%s)", p.ProposalID, p.Status)
	}
	backupID, err := e.backups.Backup(p.FilesAffected, p.ProposalID)
	if err != nil {
		return err
	}
	p.BackupID = backupID

	for path, content := range p.NewContent {
		if err := store.WriteFile(e.w, path, content); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	p.ExecutedAt = &now
	p.Status = StatusExecuted
	if e.tracker != nil {
		if rate, err := e.tracker.GetSuccessRate(7); err == nil {
			p.BaselineSuccessRate = rate
		}
	}
	if err := e.appendUpdatedProposal(*p); err != nil {
		return err
	}
	if e.tracker != nil {
		_ = e.tracker.Append(metrics.Event{
			EventType: metrics.EventProposal, Timestamp: now,
			ProposalID: p.ProposalID, Status: "executed",
		})
	}

	p.Status = StatusVerifying
	return e.appendUpdatedProposal(*p)
}

// CheckVerification succeeds once VerificationDays have elapsed since
// execution and there are currently no active HIGH or CRITICAL
// signals — the explicit, documented heuristic from spec.md §4.10
// (kept as-is per the spec's own Open Questions, not replaced with a
// success-rate comparison). Regression rolls the backup back.
func (e *Engine) CheckVerification(p *Proposal) error {
	if p.Status != StatusVerifying || p.ExecutedAt == nil {
		return nil
	}
	elapsed := time.Since(*p.ExecutedAt)
	if elapsed < time.Duration(p.VerificationDays)*24*time.Hour {
		return nil
	}

	clean, err := e.noActiveHighOrCriticalSignals()
	if err != nil {
		return err
	}

	if clean {
		p.Status = StatusValidated
	} else {
		if err := e.backups.Rollback(p.BackupID); err != nil {
			return err
		}
		p.Status = StatusRolledBack
		if e.tracker != nil {
			_ = e.tracker.Append(metrics.Event{
				EventType: metrics.EventProposal, Timestamp: time.Now().UTC(),
				ProposalID: p.ProposalID, Status: "rolled_back",
			})
		}
	}
	return e.appendUpdatedProposal(*p)
}

func (e *Engine) noActiveHighOrCriticalSignals() (bool, error) {
	if e.sigStore == nil {
		return true, nil
	}
	for _, pr := range []signals.Priority{signals.PriorityCritical, signals.PriorityHigh} {
		sigs, err := e.sigStore.GetActive(signals.Filters{Priority: pr})
		if err != nil {
			return false, err
		}
		if len(sigs) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// appendUpdatedProposal appends a new record for p (proposals.jsonl is
// append-only; readers must fold by proposal_id, keeping the latest).
func (e *Engine) appendUpdatedProposal(p Proposal) error {
	return store.AppendJSONL(e.w, proposalsFile, p)
}

// ListProposals folds proposals.jsonl down to the latest record per
// proposal_id, newest first.
func (e *Engine) ListProposals() ([]Proposal, error) {
	latest := map[string]Proposal{}
	var order []string
	err := store.ReadJSONL(e.w, proposalsFile, func(line []byte) error {
		var p Proposal
		if err := json.Unmarshal(line, &p); err != nil {
			return nil
		}
		if _, seen := latest[p.ProposalID]; !seen {
			order = append(order, p.ProposalID)
		}
		latest[p.ProposalID] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
