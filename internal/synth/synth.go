// Package synth turns claims and the context bundle into the user-facing
// answer with numbered citations and a self-check list.
//
// Every statement in an answer is copied from a claim or a bundle item,
// and every cited item carries a source locator or a reference id; items
// with neither are left out rather than cited incompletely.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// Checklist item names.
const (
	CheckTraceability = "evidence_traceability"
	CheckCoverage     = "intent_coverage"
	CheckGrounded     = "no_contextual_hallucination"
	CheckFormat       = "format_appropriate"
	CheckMetadata     = "source_metadata_complete"
)

// Config bounds an answer.
type Config struct {
	MaxItems int
	MaxChars int
	// MinCoverage is the share of goals that must be covered.
	MinCoverage float64
}

// DefaultConfig returns the default answer bounds.
func DefaultConfig() Config {
	return Config{MaxItems: 8, MaxChars: 4000, MinCoverage: 0.5}
}

// Synthesizer builds answers.
type Synthesizer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Synthesizer. A nil logger is replaced with a no-op.
func New(cfg Config, logger *zap.Logger) *Synthesizer {
	def := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = def.MinCoverage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{cfg: cfg, logger: logger.Named("synth")}
}

// evidence is one citable statement.
type evidence struct {
	text       string
	claimID    string
	docID      string
	locator    string
	title      string
	confidence float64
	qualifies  bool
}

// Synthesize builds the next answer for rec. feedback is the Validator's
// reasoning when this is a revision; revisions use the compact format.
func (s *Synthesizer) Synthesize(ctx context.Context, rec *turn.Record, feedback string) (turn.Answer, error) {
	if err := ctx.Err(); err != nil {
		return turn.Answer{}, err
	}
	ans := turn.Answer{Attempt: len(rec.Answers) + 1, Compact: feedback != "" || len(rec.Answers) > 0}

	items := s.collect(rec)
	if len(items) > s.cfg.MaxItems {
		items = items[:s.cfg.MaxItems]
	}

	var b strings.Builder
	if len(items) == 0 {
		fmt.Fprintf(&b, "I could not find evidence to answer: %s", rec.ResolvedQuery())
	}
	if ans.Compact {
		parts := make([]string, 0, len(items))
		for i, it := range items {
			parts = append(parts, fmt.Sprintf("%s [%d]", it.text, i+1))
		}
		b.WriteString(strings.Join(parts, "; "))
	} else {
		for i, it := range items {
			fmt.Fprintf(&b, "- %s [%d]\n", it.text, i+1)
		}
	}

	for i, it := range items {
		ans.Citations = append(ans.Citations, turn.Citation{
			N:       i + 1,
			ClaimID: it.claimID,
			DocID:   it.docID,
			Locator: it.locator,
			Title:   it.title,
		})
		if it.claimID != "" {
			ans.CitedClaims = append(ans.CitedClaims, it.claimID)
		}
	}

	if blocked := blockedGoals(rec); len(blocked) > 0 {
		b.WriteString("\n\nCould not verify: " + strings.Join(blocked, "; "))
	}
	if rec.Mode == turn.ModeReadWrite {
		if actions := performedActions(rec); len(actions) > 0 {
			b.WriteString("\n\nActions performed:\n- " + strings.Join(actions, "\n- "))
		}
	}
	if len(ans.Citations) > 0 && !ans.Compact {
		b.WriteString("\n\nSources:")
		for _, c := range ans.Citations {
			fmt.Fprintf(&b, "\n[%d] %s", c.N, sourceLabel(c))
		}
	}

	ans.Text = strings.TrimSpace(b.String())
	ans.Checklist = s.checklist(rec, ans, items)
	s.logger.Debug("answer synthesized",
		zap.String("trace_id", rec.TraceID),
		zap.Int("attempt", ans.Attempt),
		zap.Int("citations", len(ans.Citations)),
		zap.Bool("compact", ans.Compact),
	)
	return ans, nil
}

// collect gathers citable evidence: claims first, ordered by qualifier
// match then confidence, then fresh research from the bundle.
func (s *Synthesizer) collect(rec *turn.Record) []evidence {
	var qualifiers []string
	if rec.Bundle != nil {
		qualifiers = rec.Bundle.Qualifiers
	}

	var claims []evidence
	seen := map[string]bool{}
	for _, c := range rec.AllClaims() {
		if seen[c.Statement] {
			continue
		}
		seen[c.Statement] = true
		claims = append(claims, evidence{
			text:       c.Statement,
			claimID:    c.ID,
			locator:    c.Source,
			confidence: c.Confidence,
			qualifies:  mentionsAny(c.Statement, qualifiers),
		})
	}
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].qualifies != claims[j].qualifies {
			return claims[i].qualifies
		}
		return claims[i].confidence > claims[j].confidence
	})

	var docs []evidence
	if rec.Bundle != nil {
		for _, it := range rec.Bundle.Research {
			if it.Stale || seen[it.Content] {
				continue
			}
			seen[it.Content] = true
			docs = append(docs, evidence{
				text:       firstLine(it.Content),
				docID:      it.DocID,
				title:      it.Topic + " (" + it.Freshness + ")",
				confidence: it.Quality,
				qualifies:  mentionsAny(it.Content, qualifiers),
			})
		}
	}

	out := make([]evidence, 0, len(claims)+len(docs))
	for _, e := range append(claims, docs...) {
		if e.locator == "" && e.docID == "" {
			continue
		}
		if strings.TrimSpace(e.text) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Synthesizer) checklist(rec *turn.Record, ans turn.Answer, items []evidence) []turn.CheckItem {
	claims := map[string]turn.Claim{}
	for _, c := range rec.AllClaims() {
		claims[c.ID] = c
	}
	calls := map[string]bool{}
	for _, p := range rec.Plans {
		for _, r := range p.Results {
			if r.Success {
				calls[r.CallID] = true
			}
		}
	}
	docs := map[string]bool{}
	for _, it := range rec.Bundle.Items() {
		docs[it.DocID] = true
	}

	// Traceability: cited claims come from a successful call of this
	// turn; cited documents are in the bundle.
	trace := turn.CheckItem{Name: CheckTraceability, Passed: true}
	for _, c := range ans.Citations {
		switch {
		case c.ClaimID != "":
			cl, ok := claims[c.ClaimID]
			if !ok || !calls[cl.CallID] {
				trace.Passed = false
				trace.Detail = fmt.Sprintf("citation [%d] has no tool result", c.N)
			}
		case c.DocID != "" && !docs[c.DocID]:
			trace.Passed = false
			trace.Detail = fmt.Sprintf("citation [%d] is not in context", c.N)
		}
	}

	coverage := turn.CheckItem{Name: CheckCoverage}
	ratio, detail := s.coverage(rec, len(items))
	coverage.Passed = ratio >= s.cfg.MinCoverage && len(items) > 0
	coverage.Detail = detail

	// Every marker points at a citation and every bullet is a copy of
	// its evidence.
	halluc := turn.CheckItem{Name: CheckGrounded, Passed: true}
	for _, m := range markerRe.FindAllStringSubmatch(ans.Text, -1) {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > len(ans.Citations) {
			halluc.Passed = false
			halluc.Detail = fmt.Sprintf("marker [%d] has no citation", n)
		}
	}
	for _, it := range items {
		if !strings.Contains(ans.Text, it.text) {
			halluc.Passed = false
			halluc.Detail = "answer text diverges from its evidence"
		}
	}

	format := turn.CheckItem{Name: CheckFormat, Passed: true}
	switch {
	case ans.Text == "":
		format.Passed, format.Detail = false, "empty answer"
	case len(ans.Text) > s.cfg.MaxChars:
		format.Passed, format.Detail = false, fmt.Sprintf("answer is %d chars, limit %d", len(ans.Text), s.cfg.MaxChars)
	case rec.Mode != turn.ModeReadWrite && strings.Contains(ans.Text, "Actions performed:"):
		format.Passed, format.Detail = false, "read-only answer lists actions"
	}

	meta := turn.CheckItem{Name: CheckMetadata, Passed: true}
	for _, c := range ans.Citations {
		if c.Locator == "" && c.DocID == "" {
			meta.Passed = false
			meta.Detail = fmt.Sprintf("citation [%d] has no locator", c.N)
		}
	}

	return []turn.CheckItem{trace, coverage, halluc, format, meta}
}

// coverage is the share of goals completed in the latest plan that set
// goals, or for turns answered from context, whether there was evidence.
func (s *Synthesizer) coverage(rec *turn.Record, items int) (float64, string) {
	var goals []turn.Goal
	for i := len(rec.Plans) - 1; i >= 0; i-- {
		if len(rec.Plans[i].Goals) > 0 {
			goals = rec.Plans[i].Goals
			break
		}
	}
	if len(goals) == 0 {
		if items > 0 {
			return 1, fmt.Sprintf("answered from %d context items", items)
		}
		return 0, "no goals and no evidence"
	}
	done := turn.CountStatus(goals, turn.GoalCompleted)
	return float64(done) / float64(len(goals)), fmt.Sprintf("%d/%d goals covered", done, len(goals))
}

func blockedGoals(rec *turn.Record) []string {
	p := rec.LatestPlan()
	if p == nil {
		return nil
	}
	var out []string
	for _, g := range p.Goals {
		if g.Status == turn.GoalBlocked || g.Status == turn.GoalFailed {
			out = append(out, g.Description)
		}
	}
	return out
}

// performedActions lists the successful state-changing calls of the turn.
func performedActions(rec *turn.Record) []string {
	var out []string
	for _, p := range rec.Plans {
		for _, r := range p.Results {
			if r.Success && r.Tool == "file_write" {
				out = append(out, r.Payload)
			}
		}
	}
	return out
}

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

func sourceLabel(c turn.Citation) string {
	switch {
	case c.Title != "" && c.Locator != "":
		return c.Title + " - " + c.Locator
	case c.Locator != "":
		return c.Locator
	case c.Title != "":
		return c.Title + " (doc " + c.DocID + ")"
	default:
		return "doc " + c.DocID
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func mentionsAny(text string, qualifiers []string) bool {
	lt := strings.ToLower(text)
	for _, q := range qualifiers {
		if q != "" && strings.Contains(lt, strings.ToLower(q)) {
			return true
		}
	}
	return false
}
