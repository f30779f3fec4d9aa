// Package gate implements the Reflection Gate: a single-pass admission
// decision on a resolved query.
//
// The gate scores the query along weighted dimensions and admits it
// (PROCEED) by default. CLARIFY is reserved for queries that cannot be
// read at all: an unresolved reference with nothing to anchor it, a
// sentence that stops mid-phrase, or a request with two incompatible
// literal readings. The gate never calls tools and has no side effects.
package gate

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/turnloop/internal/resolver"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Dimension is one axis of admission scoring.
type Dimension struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Weight      int    `json:"weight"` // relative importance (1-10)
	Score       int    `json:"score"`  // 0-100 for this dimension
	// Blocking marks a failure that forces CLARIFY.
	Blocking bool   `json:"blocking,omitempty"`
	Question string `json:"question,omitempty"`
}

// Dimension names.
const (
	DimGrounding     = "grounding"
	DimCompleteness  = "completeness"
	DimActionability = "actionability"
	DimSingleReading = "single_reading"
)

// DefaultDimensions returns the admission dimensions, unscored.
func DefaultDimensions() []Dimension {
	return []Dimension{
		{
			Name:        DimGrounding,
			Description: "Does every reference point at something named in the query or the turn window?",
			Weight:      10,
		},
		{
			Name:        DimCompleteness,
			Description: "Is the query a complete phrase rather than one cut off mid-sentence?",
			Weight:      9,
		},
		{
			Name:        DimActionability,
			Description: "Does the query name something to look up or do?",
			Weight:      6,
		},
		{
			Name:        DimSingleReading,
			Description: "Does the query have one literal reading rather than two incompatible ones?",
			Weight:      8,
		},
	}
}

// CalculateScore computes the weighted overall score from dimensions.
func CalculateScore(dimensions []Dimension) int {
	totalWeight := 0
	weightedSum := 0

	for _, d := range dimensions {
		totalWeight += d.Weight
		weightedSum += d.Score * d.Weight
	}

	if totalWeight == 0 {
		return 0
	}

	return weightedSum / totalWeight
}

// Blocking returns the dimensions whose failure forces CLARIFY, in
// priority order.
func Blocking(dimensions []Dimension) []Dimension {
	var out []Dimension
	for _, d := range dimensions {
		if d.Blocking {
			out = append(out, d)
		}
	}
	return out
}

// Gate decides whether a resolved query enters the pipeline.
type Gate interface {
	Admit(ctx context.Context, res turn.Resolution) (turn.Admission, error)
}

// Reflector is the deterministic Gate.
type Reflector struct{}

// New returns the deterministic gate.
func New() Reflector { return Reflector{} }

// Admit implements Gate.
func (Reflector) Admit(ctx context.Context, res turn.Resolution) (turn.Admission, error) {
	if err := ctx.Err(); err != nil {
		return turn.Admission{}, err
	}
	dims := Evaluate(res)
	adm := turn.Admission{
		Decision:   turn.DecisionProceed,
		Confidence: float64(CalculateScore(dims)) / 100,
	}
	for _, d := range dims {
		if d.Score < 100 {
			adm.Reasons = append(adm.Reasons, fmt.Sprintf("%s: %d", d.Name, d.Score))
		}
	}
	if blocking := Blocking(dims); len(blocking) > 0 {
		adm.Decision = turn.DecisionClarify
		adm.Question = blocking[0].Question
	}
	return adm, nil
}

// Evaluate scores res along DefaultDimensions.
func Evaluate(res turn.Resolution) []Dimension {
	query := res.Resolved
	if query == "" {
		query = res.Original
	}
	dims := DefaultDimensions()
	for i := range dims {
		switch dims[i].Name {
		case DimGrounding:
			scoreGrounding(&dims[i], res, query)
		case DimCompleteness:
			scoreCompleteness(&dims[i], query)
		case DimActionability:
			scoreActionability(&dims[i], query)
		case DimSingleReading:
			scoreSingleReading(&dims[i], query)
		}
	}
	return dims
}

// objectWords are content words that name a thing rather than a property.
func objectWords(query string) []string {
	var out []string
	for _, w := range resolver.ContentWords(query) {
		if !resolver.IsAttributeWord(w) {
			out = append(out, w)
		}
	}
	return out
}

func scoreGrounding(d *Dimension, res turn.Resolution, query string) {
	switch res.Status {
	case turn.ResolutionFailed:
		if len(resolver.Entities(query)) > 0 || len(objectWords(query)) > 0 {
			// The reference stays open but the query is still actionable.
			d.Score = 60
			return
		}
		d.Blocking = true
		d.Question = fmt.Sprintf("What are you referring to with %q? Please name the item or topic.",
			strings.Join(res.References, ", "))
	case turn.ResolutionResolved:
		d.Score = 90
	default:
		d.Score = 100
	}
}

// danglingEnds cannot end a complete query.
var danglingEnds = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "for": true, "with": true, "to": true,
	"and": true, "or": true, "but": true, "from": true, "in": true, "on": true, "at": true,
	"by": true, "about": true, "between": true, "than": true, "my": true, "your": true,
}

func scoreCompleteness(d *Dimension, query string) {
	ws := resolver.Words(query)
	if len(ws) == 0 {
		d.Blocking = true
		d.Question = "Your message was empty. What would you like to know?"
		return
	}
	last := ws[len(ws)-1]
	trailing := strings.TrimSpace(query[last.End:])
	if danglingEnds[last.Lower] && !strings.ContainsAny(trailing, "?.!") {
		d.Blocking = true
		d.Question = fmt.Sprintf("Your question seems to stop after %q. What did you want to add?", last.Text)
		return
	}
	d.Score = 100
}

func scoreActionability(d *Dimension, query string) {
	switch n := len(resolver.ContentWords(query)); {
	case n == 0:
		d.Score = 20
	case n == 1:
		d.Score = 70
	default:
		d.Score = 100
	}
}

// opposites are actions that cannot both be meant by one request.
var opposites = [][2]string{
	{"buy", "sell"},
	{"add", "remove"},
	{"enable", "disable"},
	{"delete", "keep"},
	{"increase", "decrease"},
	{"open", "close"},
	{"start", "stop"},
}

func scoreSingleReading(d *Dimension, query string) {
	d.Score = 100
	// Asking which of two actions is better is one reading.
	if resolver.IsQuestion(query) {
		return
	}
	words := map[string]bool{}
	for _, w := range resolver.Words(query) {
		words[w.Lower] = true
	}
	for _, p := range opposites {
		if words[p[0]] && words[p[1]] && !words["vs"] && !words["versus"] && !words["whether"] {
			d.Blocking = true
			d.Score = 0
			d.Question = fmt.Sprintf("Do you want to %s or %s?", p[0], p[1])
			return
		}
	}
}
