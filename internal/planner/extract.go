package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// maxTextClaims caps the claims taken from one plain-text payload.
const maxTextClaims = 5

// Extractor turns tool payloads into claims. Every claim statement (or,
// for structured facts, its value) is copied from the payload; nothing
// is inferred.
type Extractor struct {
	now func() time.Time
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// Extract returns the claims in a successful result. Failed results
// yield none.
func (x *Extractor) Extract(call turn.Call, res turn.Result) []turn.Claim {
	if !res.Success || strings.TrimSpace(res.Payload) == "" {
		return nil
	}
	var claims []turn.Claim
	add := func(statement, source string, confidence float64) {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			return
		}
		if turn.IsSpeculative(statement) {
			confidence = turn.ConfidenceLow
		}
		cat := turn.CategorizeTTL(statement)
		claims = append(claims, turn.Claim{
			ID:          fmt.Sprintf("%s-c%d", res.CallID, len(claims)+1),
			Statement:   statement,
			Confidence:  confidence,
			Source:      source,
			CallID:      res.CallID,
			GoalID:      res.GoalID,
			Category:    cat,
			TTLHours:    cat.Hours(),
			ExtractedAt: x.now().UTC(),
		})
	}

	payload := res.Payload
	if gjson.Valid(payload) {
		doc := gjson.Parse(payload)
		switch {
		case doc.Get("results").IsArray():
			doc.Get("results").ForEach(func(_, hit gjson.Result) bool {
				source := hit.Get("url").String()
				title := hit.Get("title").String()
				hit.Get("facts").ForEach(func(k, v gjson.Result) bool {
					subject := title
					if subject == "" {
						subject = source
					}
					add(fmt.Sprintf("%s %s: %s", subject, k.String(), v.String()), source, turn.ConfidenceHigh)
					return true
				})
				add(hit.Get("snippet").String(), source, turn.ConfidenceMedium)
				return true
			})
		case doc.Get("value").Exists() || doc.Get("output").Exists():
			source := "tool:" + res.Tool
			if v := doc.Get("value").String(); v != "" {
				add(fmt.Sprintf("%s = %s", argText(call), v), source, turn.ConfidenceHigh)
			}
			for _, s := range sentences(doc.Get("output").String()) {
				add(s, source, turn.ConfidenceHigh)
			}
		}
		return claims
	}

	source := "tool:" + res.Tool
	if p := argText(call); p != "" {
		source += ":" + p
	}
	for i, s := range sentences(payload) {
		if i == maxTextClaims {
			break
		}
		add(s, source, turn.ConfidenceMedium)
	}
	return claims
}

// argText is the call's main argument, used as a locator.
func argText(call turn.Call) string {
	for _, k := range []string{"path", "code", "query"} {
		if v, ok := call.Args[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s+|\n+`)

// sentences splits text into statements of at least three words.
func sentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) >= 3 {
			out = append(out, s)
		}
	}
	return out
}
