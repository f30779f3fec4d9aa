package resolver

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Word is one token of a query with its byte offsets in the source text.
type Word struct {
	Text  string
	Lower string
	Start int
	End   int
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'\-]*`)

// Words splits text into word tokens. Possessive suffixes stay attached.
func Words(text string) []Word {
	locs := wordRe.FindAllStringIndex(text, -1)
	out := make([]Word, 0, len(locs))
	for _, l := range locs {
		w := text[l[0]:l[1]]
		out = append(out, Word{Text: w, Lower: strings.ToLower(w), Start: l[0], End: l[1]})
	}
	return out
}

var stopwords = set(
	"a", "an", "the", "and", "or", "but", "of", "in", "on", "at", "to", "for", "from", "by", "with",
	"about", "as", "into", "over", "under", "is", "are", "was", "were", "be", "been", "am", "do",
	"does", "did", "can", "could", "should", "would", "will", "shall", "may", "might", "must", "have",
	"has", "had", "i", "me", "my", "we", "our", "you", "your", "he", "she", "his", "her", "what",
	"what's", "whats", "which", "who", "whom", "whose", "when", "where", "why", "how", "there",
	"here", "please", "tell", "show", "find", "give", "get", "so", "if", "than", "any", "some",
	"all", "more", "most", "very", "just", "also", "not", "no", "yes", "hi", "hello", "thanks",
	"let", "let's", "lets", "need", "want", "like", "much", "many", "okay", "ok", "up", "out",
)

// pronouns stand in for something named earlier.
var pronouns = set("it", "its", "it's", "they", "them", "their", "one", "ones")

// determiners refer back only when no noun follows them.
var determiners = set("this", "that", "these", "those")

// temporal words anchor a query to an earlier turn's subject.
var temporal = set("now", "again", "still", "anymore", "currently", "today")

// attributeWords name a property of some object without naming the object.
var attributeWords = set(
	"price", "prices", "cost", "costs", "availability", "available", "stock", "specs", "spec",
	"specifications", "rating", "ratings", "review", "reviews", "details", "info", "information",
	"status", "deal", "deals", "discount", "shipping", "warranty", "size", "weight", "version",
	"release", "update", "news", "option", "options", "one", "ones", "thing", "things", "stuff",
)

// questionStarts mark a query as a question even without "?".
var questionStarts = set(
	"what", "what's", "whats", "which", "who", "when", "where", "why", "how", "is", "are", "can",
	"could", "should", "would", "will", "does", "do", "did", "has", "have",
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// IsStopword reports whether w carries no topical content.
func IsStopword(w string) bool { return stopwords[strings.ToLower(w)] }

// IsAttributeWord reports whether w names a property rather than an object.
func IsAttributeWord(w string) bool { return attributeWords[strings.ToLower(w)] }

// ContentWords returns the lowercased words of text that are neither
// stopwords nor references.
func ContentWords(text string) []string {
	var out []string
	for _, w := range Words(text) {
		if stopwords[w.Lower] || pronouns[w.Lower] || determiners[w.Lower] || temporal[w.Lower] {
			continue
		}
		out = append(out, w.Lower)
	}
	return out
}

// IsQuestion reports whether text reads as a question.
func IsQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if strings.HasSuffix(t, "?") {
		return true
	}
	ws := Words(t)
	return len(ws) > 0 && questionStarts[ws[0].Lower]
}

// References returns the reference tokens in text: pronouns, determiners
// used without a noun, and temporal anchors.
func References(text string) []Word {
	ws := Words(text)
	var out []Word
	for i, w := range ws {
		switch {
		case pronouns[w.Lower]:
			// "which one", "the cheapest one" point at a set named in the
			// query itself when a content word precedes them.
			if (w.Lower == "one" || w.Lower == "ones") && i > 0 && !stopwords[ws[i-1].Lower] {
				continue
			}
			out = append(out, w)
		case determiners[w.Lower]:
			if i+1 < len(ws) && isNoun(ws[i+1]) {
				continue
			}
			out = append(out, w)
		case temporal[w.Lower]:
			out = append(out, w)
		}
	}
	return out
}

// isNoun approximates "names an object": a content word that is not a
// bare attribute.
func isNoun(w Word) bool {
	return !stopwords[w.Lower] && !pronouns[w.Lower] && !temporal[w.Lower] && !attributeWords[w.Lower]
}

// Entities returns named things in text: runs of capitalized words and
// model-number tokens such as "GF63" or "RTX4060". Sentence-initial
// words only count when they are not ordinary vocabulary.
func Entities(text string) []string {
	ws := Words(text)
	var (
		out []string
		run []string
	)
	flush := func() {
		if len(run) > 0 {
			out = append(out, strings.Join(run, " "))
			run = nil
		}
	}
	for i, w := range ws {
		if isEntityWord(w) && !(sentenceStart(text, ws, i) && stopwords[w.Lower]) && !pronouns[w.Lower] && !determiners[w.Lower] {
			// A gap of punctuation other than a space ends the run.
			if len(run) > 0 && strings.TrimSpace(text[ws[i-1].End:w.Start]) != "" {
				flush()
			}
			run = append(run, strings.TrimSuffix(strings.TrimSuffix(w.Text, "'s"), "’s"))
			continue
		}
		flush()
	}
	flush()
	return dedupe(out)
}

func isEntityWord(w Word) bool {
	if w.Text == "I" {
		return false
	}
	r := []rune(w.Text)
	if unicode.IsUpper(r[0]) {
		return true
	}
	var letters, digits bool
	for _, c := range r {
		if unicode.IsLetter(c) {
			letters = true
		}
		if unicode.IsDigit(c) {
			digits = true
		}
	}
	return letters && digits
}

func sentenceStart(text string, ws []Word, i int) bool {
	if i == 0 {
		return true
	}
	gap := strings.TrimSpace(text[ws[i-1].End:ws[i].Start])
	return strings.ContainsAny(gap, ".!?")
}

var qualifierRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(cheapest|least expensive|most affordable|best value|best|fastest|lightest|most reliable|highest[- ]rated|top[- ]rated|latest|newest|most recent)\b`),
	regexp.MustCompile(`(?i)\b(under|below|less than|at most|over|above|more than|at least)\s+\$?\d[\d,]*(\.\d+)?\s*(k\b|usd\b|dollars\b)?`),
	regexp.MustCompile(`(?i)\bwithin\s+\d+\s+(hours?|days?|weeks?|months?)\b`),
}

// Qualifiers returns the priority phrases of text verbatim, in the order
// they appear.
func Qualifiers(text string) []string {
	type hit struct {
		start int
		text  string
	}
	var hits []hit
	for _, re := range qualifierRes {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{loc[0], strings.TrimSpace(text[loc[0]:loc[1]])})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.text)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
