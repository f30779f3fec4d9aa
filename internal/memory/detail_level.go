// detail_level.go provides shared constants and rendering for the
// detail_level parameter used by the memory tools.
//
// Three verbosity levels:
//   - summary: IDs, topics, scope and quality only
//   - standard: truncated content snippets
//   - full: complete untruncated content
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Detail level constants.
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// DetailLevelValues returns the enum values for MCP tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to "standard"
// for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// NavigationHint returns a one-line footer when results are capped by a limit.
// Returns an empty string when all results fit (showing >= total) or total is 0.
func NavigationHint(showing, total int, hint string) string {
	if total <= 0 || showing >= total {
		return ""
	}
	if hint != "" {
		return fmt.Sprintf("\nShowing %d of %d. %s", showing, total, hint)
	}
	return fmt.Sprintf("\nShowing %d of %d.", showing, total)
}

// FormatDocument renders a document at the given detail level.
func FormatDocument(d Document, level string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (scope: %s, quality: %.2f, types: %s)",
		d.ID, d.Topic, d.Scope, d.Quality, joinTypes(d.ContentTypes))

	freshness := "created " + humanize.RelTime(d.CreatedAt, now, "ago", "from now")
	if d.Expired(now) {
		freshness += ", expired"
	} else if d.ExpiresAt != nil {
		freshness += ", expires " + humanize.RelTime(*d.ExpiresAt, now, "ago", "from now")
	}
	fmt.Fprintf(&b, "\n  %s", freshness)

	switch ParseDetailLevel(level) {
	case DetailSummary:
		return b.String()
	case DetailStandard:
		fmt.Fprintf(&b, "\n  %s", Truncate(d.Content, 300))
	default:
		if len(d.Keywords) > 0 {
			fmt.Fprintf(&b, "\n  keywords: %s", strings.Join(d.Keywords, ", "))
		}
		if d.Purpose != "" {
			fmt.Fprintf(&b, "\n  purpose: %s", d.Purpose)
		}
		fmt.Fprintf(&b, "\n  %s", d.Content)
	}
	return b.String()
}

func joinTypes(types []ContentType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ",")
}

// ─── Token Estimation ───────────────────────────────────────────────────────

// EstimateTokens approximates the token count for a text string using the
// chars/4 heuristic. Returns 0 for empty strings, at least 1 otherwise.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

// TokenFooter returns a one-line footer with the estimated token count
// for a tool response.
func TokenFooter(estimatedTokens int) string {
	return fmt.Sprintf("\n~%s tokens", humanize.Comma(int64(estimatedTokens)))
}
