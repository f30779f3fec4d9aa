package memory

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// ─── Helpers ─────────────────────────────────────────────────────────────────

const timeLayout = "2006-01-02 15:04:05.000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Truncate shortens s to at most max bytes, appending an ellipsis when
// cut. The cut never splits a multi-byte rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var topicSpaces = regexp.MustCompile(`[\s_]+`)

// NormalizeTopic lowercases a slash-separated topic path, trims each
// segment, and joins words inside a segment with dashes.
func NormalizeTopic(topic string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(topic)), "/")
	out := parts[:0]
	for _, p := range parts {
		p = strings.Trim(topicSpaces.ReplaceAllString(strings.TrimSpace(p), "-"), "-")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func joinKeywords(kw []string) string {
	clean := make([]string, 0, len(kw))
	for _, k := range kw {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	return strings.Join(clean, ", ")
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupeTypes(types []ContentType) []ContentType {
	seen := make(map[ContentType]bool, len(types))
	out := make([]ContentType, 0, len(types))
	for _, t := range types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var privateTagRe = regexp.MustCompile(`(?s)<private>.*?</private>`)

// stripPrivateTags removes <private>...</private> blocks from content.
func stripPrivateTags(s string) string {
	return strings.TrimSpace(privateTagRe.ReplaceAllString(s, "[REDACTED]"))
}

var ftsStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"was": true, "what": true, "what's": true, "whats": true, "how": true,
	"me": true, "my": true, "i": true, "it": true, "its": true, "it's": true,
	"do": true, "does": true, "can": true, "you": true, "with": true, "at": true,
	"be": true, "this": true, "that": true, "now": true,
}

// sanitizeFTS turns free text into an FTS5 OR-query of quoted terms with
// stopwords removed. It returns "" when nothing searchable remains.
func sanitizeFTS(query string) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.ToLower(strings.Trim(w, `"'?!.,;:()[]{}`))
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" || ftsStopwords[w] {
			continue
		}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
