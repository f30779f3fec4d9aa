// Package resolver turns a raw user query and the recent turn window into
// an explicit, classified query.
//
// Resolution only grounds references against entities that appear in the
// window. When nothing can be grounded the query passes through unchanged
// with status failed; it is never dropped or filled in with a guess.
package resolver

import (
	"context"
	"strings"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Resolver resolves references in a query against recent turns. window
// is ordered newest first.
type Resolver interface {
	Resolve(ctx context.Context, query string, window []memory.TurnEntry) (turn.Resolution, error)
}

// Heuristic is the deterministic Resolver.
type Heuristic struct{}

// New returns the deterministic resolver.
func New() Heuristic { return Heuristic{} }

// Resolve implements Resolver.
func (Heuristic) Resolve(ctx context.Context, query string, window []memory.TurnEntry) (turn.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return turn.Resolution{}, err
	}
	query = strings.TrimSpace(query)
	res := turn.Resolution{
		Original:   query,
		Resolved:   query,
		Status:     turn.ResolutionNotNeeded,
		Qualifiers: Qualifiers(query),
	}

	refs := References(query)
	own := Entities(query)
	for _, r := range refs {
		res.References = append(res.References, r.Text)
	}

	switch {
	case len(refs) == 0:
	case len(own) > 0:
		// "is the MSI GF63 still in stock" names its own subject.
	default:
		anchor, number, ok := anchorFrom(window)
		if !ok {
			res.Status = turn.ResolutionFailed
			break
		}
		res.Status = turn.ResolutionResolved
		res.Anchor = anchor
		res.AnchorTurn = number
		res.Resolved = rewrite(query, refs, anchor)
	}

	res.Type = classify(res, own)
	return res, nil
}

func classify(res turn.Resolution, own []string) turn.QueryType {
	switch {
	case res.Status == turn.ResolutionResolved:
		return turn.QueryFollowUp
	case len(own) > 0:
		return turn.QuerySpecificContent
	case IsQuestion(res.Original):
		return turn.QueryGeneralQuestion
	default:
		return turn.QueryNewTopic
	}
}

// anchorFrom returns the most recent entity in the window. Within a turn
// the resolved query is preferred over the raw query, then the answer,
// then the summary.
func anchorFrom(window []memory.TurnEntry) (string, int64, bool) {
	for _, t := range window {
		for _, text := range []string{t.ResolvedQuery, t.Query, t.Answer, t.Summary} {
			if es := Entities(text); len(es) > 0 {
				return es[0], t.Number, true
			}
		}
	}
	return "", 0, false
}

// rewrite makes the references in query explicit. Pronouns and bare
// determiners are replaced by the anchor. When only temporal words refer
// back, the anchor is attached to the first attribute the query asks
// about ("the price" becomes "the price of MSI GF63"), or appended.
func rewrite(query string, refs []Word, anchor string) string {
	var b strings.Builder
	last := 0
	replaced := false
	for _, r := range refs {
		if temporal[r.Lower] {
			continue
		}
		b.WriteString(query[last:r.Start])
		switch r.Lower {
		case "its", "their":
			b.WriteString(anchor + "'s")
		default:
			b.WriteString(anchor)
		}
		last = r.End
		replaced = true
	}
	b.WriteString(query[last:])
	if replaced {
		return b.String()
	}

	ws := Words(query)
	for i, w := range ws {
		if IsAttributeWord(w.Lower) && i > 0 && ws[i-1].Lower == "the" {
			return query[:w.End] + " of " + anchor + query[w.End:]
		}
	}
	trimmed := strings.TrimRight(query, "?.! ")
	return trimmed + " (" + anchor + ")" + query[len(trimmed):]
}
