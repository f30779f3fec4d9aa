package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/HendryAvila/turnloop/internal/resolver"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Strategy is the reasoning step behind the coordinator. It only returns
// structured decisions; the coordinator owns the state machine.
type Strategy interface {
	// Route picks how the turn is answered, with a short reason.
	Route(ctx context.Context, rec *turn.Record) (turn.Route, string, error)
	// Goals decomposes the request into goals.
	Goals(ctx context.Context, rec *turn.Record) ([]turn.Goal, error)
	// Call builds the tool call for a goal's attempt (1-based). Later
	// attempts reformulate the request.
	Call(ctx context.Context, rec *turn.Record, goal turn.Goal, attempt int) (turn.Call, error)
}

// RuleStrategy is the deterministic Strategy.
type RuleStrategy struct {
	// SearchTool is the tool used for research goals.
	SearchTool string
}

// NewRuleStrategy returns a RuleStrategy that researches with web_search.
func NewRuleStrategy() RuleStrategy {
	return RuleStrategy{SearchTool: "web_search"}
}

// Route implements Strategy. Sufficient cached research is answered
// directly unless the query asks for something volatile.
func (s RuleStrategy) Route(_ context.Context, rec *turn.Record) (turn.Route, string, error) {
	if rec.Admission != nil && rec.Admission.Decision == turn.DecisionClarify {
		return turn.RouteClarify, "admission asked for clarification", nil
	}
	if rec.Bundle != nil && rec.Bundle.Sufficient {
		if turn.CategorizeTTL(rec.ResolvedQuery()) == turn.TTLVolatile && rec.Resolution != nil &&
			rec.Resolution.Type == turn.QueryFollowUp {
			return turn.RouteCoordinator, "follow-up on volatile facts needs fresh evidence", nil
		}
		return turn.RouteSynthesis, rec.Bundle.Sufficiency, nil
	}
	return turn.RouteCoordinator, "context is insufficient", nil
}

var (
	thenSplit = regexp.MustCompile(`(?i)\s*(?:;\s*(?:then\s+)?|,?\s+(?:and\s+)?then\s+)\s*`)
	andSplit  = regexp.MustCompile(`(?i)\s+(?:and|also)\s+`)
)

// actionStarts begin a clause that is its own goal after "and".
var actionStarts = map[string]bool{
	"what": true, "what's": true, "which": true, "how": true, "is": true, "are": true, "does": true,
	"find": true, "compare": true, "check": true, "list": true, "read": true, "calculate": true,
	"compute": true, "write": true, "search": true, "look": true, "tell": true, "show": true,
}

// Goals implements Strategy. Clauses joined by ";" or "then" become
// sequential goals; clauses joined by "and" that start with their own
// action become independent goals.
func (s RuleStrategy) Goals(_ context.Context, rec *turn.Record) ([]turn.Goal, error) {
	query := strings.TrimRight(strings.TrimSpace(rec.ResolvedQuery()), "?.!")
	var goals []turn.Goal
	prevStage := []string(nil)
	for _, stage := range thenSplit.Split(query, -1) {
		var ids []string
		for _, clause := range splitActions(stage) {
			g := turn.Goal{
				ID:          fmt.Sprintf("g%d", len(goals)+1),
				Description: clause,
				Status:      turn.GoalPending,
				DependsOn:   prevStage,
			}
			goals = append(goals, g)
			ids = append(ids, g.ID)
		}
		if len(ids) > 0 {
			prevStage = ids
		}
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("planner: no goals in %q", query)
	}
	return goals, turn.ValidateGoals(goals)
}

func splitActions(stage string) []string {
	parts := andSplit.Split(stage, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ws := resolver.Words(p)
		if len(out) > 0 && (len(ws) == 0 || !actionStarts[ws[0].Lower]) {
			// "MSI and Dell laptops": not a new action.
			out[len(out)-1] += " and " + p
			continue
		}
		out = append(out, p)
	}
	return out
}

var (
	readRe = regexp.MustCompile(`(?i)^(?:read|open|show)\s+(?:the\s+)?(?:file\s+)?([\w./\-]+\.\w+)$`)
	calcRe = regexp.MustCompile(`(?i)^(?:calculate|compute|evaluate)\s+([0-9+\-*/%(). ]+)$`)
	// write "text" to notes/x.md
	writeRe = regexp.MustCompile(`(?i)^(?:write|save)\s+"([^"]*)"\s+(?:to|into)\s+(?:the\s+)?(?:file\s+)?([\w./\-]+\.\w+)$`)
)

// Call implements Strategy.
func (s RuleStrategy) Call(_ context.Context, rec *turn.Record, goal turn.Goal, attempt int) (turn.Call, error) {
	call := turn.Call{GoalID: goal.ID, Attempt: attempt}
	desc := strings.TrimSpace(goal.Description)

	if m := readRe.FindStringSubmatch(desc); m != nil {
		call.Tool = "file_read"
		call.Args = map[string]any{"path": m[1]}
		return call, nil
	}
	if m := writeRe.FindStringSubmatch(desc); m != nil {
		call.Tool = "file_write"
		call.Args = map[string]any{"path": m[2], "content": m[1]}
		return call, nil
	}
	if m := calcRe.FindStringSubmatch(desc); m != nil {
		call.Tool = "code_eval"
		call.Args = map[string]any{"code": strings.TrimSpace(m[1])}
		return call, nil
	}

	var qualifiers []string
	if rec.Bundle != nil {
		qualifiers = rec.Bundle.Qualifiers
	} else if rec.Resolution != nil {
		qualifiers = rec.Resolution.Qualifiers
	}
	call.Tool = s.SearchTool
	call.Args = map[string]any{"query": Reformulate(desc, qualifiers, attempt), "limit": float64(5)}
	return call, nil
}

// Reformulate rewrites a search request for a retry. The first attempt
// uses the goal as written, the second its content words plus the user's
// qualifiers, later attempts only the leading half of the content words
// (at most three).
func Reformulate(desc string, qualifiers []string, attempt int) string {
	words := resolver.ContentWords(desc)
	switch {
	case attempt <= 1 || len(words) == 0:
		return desc
	case attempt == 2:
		q := strings.Join(words, " ")
		for _, ql := range qualifiers {
			if !strings.Contains(strings.ToLower(q), strings.ToLower(ql)) {
				q += " " + ql
			}
		}
		return q
	default:
		n := (len(words) + 1) / 2
		if n > 3 {
			n = 3
		}
		return strings.Join(words[:n], " ")
	}
}
