package memory

import (
	"errors"
	"fmt"
	"time"
)

// ─── Errors ──────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a document or turn does not exist.
	ErrNotFound = errors.New("memory: not found")
	// ErrVersionConflict is returned when a commit carries a stale version.
	ErrVersionConflict = errors.New("memory: version conflict")
	// ErrScopeTransition is returned for scope changes that skip a level.
	ErrScopeTransition = errors.New("memory: invalid scope transition")
	// ErrInvalidDocument is returned when a document fails validation.
	ErrInvalidDocument = errors.New("memory: invalid document")
)

// ─── Scope ───────────────────────────────────────────────────────────────────

// Scope is the visibility tier of a document.
type Scope string

const (
	// ScopeNew is the quarantine tier every candidate enters at.
	ScopeNew Scope = "new"
	// ScopeUser is visible to the owning user.
	ScopeUser Scope = "user"
	// ScopeGlobal is visible to every user.
	ScopeGlobal Scope = "global"
)

var scopeOrder = []Scope{ScopeNew, ScopeUser, ScopeGlobal}

func scopeRank(s Scope) int {
	for i, sc := range scopeOrder {
		if sc == s {
			return i
		}
	}
	return -1
}

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	return scopeRank(s) >= 0
}

// Promote returns the scope one level above s. Global stays global.
func Promote(s Scope) Scope {
	r := scopeRank(s)
	if r < 0 || r == len(scopeOrder)-1 {
		return s
	}
	return scopeOrder[r+1]
}

// Demote returns the scope one level below s. New stays new.
func Demote(s Scope) Scope {
	r := scopeRank(s)
	if r <= 0 {
		return s
	}
	return scopeOrder[r-1]
}

// CheckTransition returns ErrScopeTransition when moving from one scope
// to another would skip a level.
func CheckTransition(from, to Scope) error {
	if !ValidScope(from) || !ValidScope(to) {
		return fmt.Errorf("%w: %q -> %q", ErrScopeTransition, from, to)
	}
	d := scopeRank(to) - scopeRank(from)
	if d > 1 || d < -1 {
		return fmt.Errorf("%w: %q -> %q skips a level", ErrScopeTransition, from, to)
	}
	return nil
}

// ─── Content types ───────────────────────────────────────────────────────────

// ContentType tags what kind of knowledge a document carries.
type ContentType string

const (
	ContentEvidence        ContentType = "evidence"
	ContentPreference      ContentType = "preference"
	ContentSitePattern     ContentType = "site-pattern"
	ContentTurnRecord      ContentType = "turn-record"
	ContentResearch        ContentType = "research"
	ContentToolReliability ContentType = "tool-reliability"
)

var validContentTypes = map[ContentType]bool{
	ContentEvidence:        true,
	ContentPreference:      true,
	ContentSitePattern:     true,
	ContentTurnRecord:      true,
	ContentResearch:        true,
	ContentToolReliability: true,
}

// ValidContentType reports whether ct is a known content type.
func ValidContentType(ct ContentType) bool {
	return validContentTypes[ct]
}

// ─── Document ────────────────────────────────────────────────────────────────

// Document is one unit of stored knowledge.
type Document struct {
	ID           string        `json:"id"`
	Topic        string        `json:"topic"`
	Keywords     []string      `json:"keywords,omitempty"`
	Purpose      string        `json:"purpose,omitempty"`
	Content      string        `json:"content"`
	ContentTypes []ContentType `json:"content_types"`
	Scope        Scope         `json:"scope"`
	Quality      float64       `json:"quality"`
	// Owner is empty for global documents.
	Owner string `json:"owner,omitempty"`
	// Origin is the user the document was first written for. Demotion
	// from global hands ownership back to it.
	Origin         string     `json:"origin,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Version        int64      `json:"version"`
	PositiveStreak int        `json:"positive_streak"`
	NegativeStreak int        `json:"negative_streak"`
}

// HasType reports whether the document is tagged with ct.
func (d Document) HasType(ct ContentType) bool {
	for _, t := range d.ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Expired reports whether the document's TTL has passed at now.
func (d Document) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && !now.Before(*d.ExpiresAt)
}

// AgeHours returns the age of the document in hours at now.
func (d Document) AgeHours(now time.Time) float64 {
	if d.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(d.CreatedAt).Hours()
}

func (d Document) validate() error {
	if d.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidDocument)
	}
	if d.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidDocument)
	}
	if !ValidScope(d.Scope) {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidDocument, d.Scope)
	}
	if d.Scope != ScopeGlobal && d.Owner == "" {
		return fmt.Errorf("%w: %s-scoped document needs an owner", ErrInvalidDocument, d.Scope)
	}
	if d.Quality < 0 || d.Quality > 1 {
		return fmt.Errorf("%w: quality %.2f out of range [0,1]", ErrInvalidDocument, d.Quality)
	}
	if len(d.ContentTypes) == 0 {
		return fmt.Errorf("%w: at least one content type is required", ErrInvalidDocument)
	}
	for _, ct := range d.ContentTypes {
		if !ValidContentType(ct) {
			return fmt.Errorf("%w: unknown content type %q", ErrInvalidDocument, ct)
		}
	}
	return nil
}

// ApplyOutcome returns doc updated for one downstream outcome. Consecutive
// positive outcomes promote one level after promoteAfter, consecutive
// negative outcomes demote one level after demoteAfter. A streak resets
// when the outcome flips or a transition fires.
func ApplyOutcome(doc Document, positive bool, promoteAfter, demoteAfter int) Document {
	if positive {
		doc.PositiveStreak++
		doc.NegativeStreak = 0
		doc.Quality = clamp01(doc.Quality + 0.05)
		if doc.PositiveStreak >= promoteAfter && doc.Scope != ScopeGlobal {
			doc.Scope = Promote(doc.Scope)
			doc.PositiveStreak = 0
			if doc.Scope == ScopeGlobal {
				doc.Owner = ""
			}
		}
		return doc
	}

	doc.NegativeStreak++
	doc.PositiveStreak = 0
	doc.Quality = clamp01(doc.Quality - 0.1)
	if doc.NegativeStreak >= demoteAfter && doc.Scope != ScopeNew {
		from := doc.Scope
		doc.Scope = Demote(doc.Scope)
		doc.NegativeStreak = 0
		if from == ScopeGlobal {
			doc.Owner = doc.Origin
		}
	}
	return doc
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ─── Query ───────────────────────────────────────────────────────────────────

// Query describes a document search. Text is matched with FTS5; the
// remaining fields are structured filters.
type Query struct {
	Text         string        `json:"text,omitempty"`
	TopicPrefix  string        `json:"topic_prefix,omitempty"`
	ContentTypes []ContentType `json:"content_types,omitempty"`
	Scopes       []Scope       `json:"scopes,omitempty"`
	MinQuality   float64       `json:"min_quality,omitempty"`
	MaxAge       time.Duration `json:"max_age,omitempty"`
	// Owner restricts results to documents visible to that user: their own
	// documents plus global ones. Empty means no visibility filter.
	Owner          string `json:"owner,omitempty"`
	IncludeExpired bool   `json:"include_expired,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// Result is one ranked search hit.
type Result struct {
	Document
	// Relevance is the normalized text match strength in [0,1).
	Relevance float64 `json:"relevance"`
	// Score blends relevance and quality and orders the results.
	Score float64 `json:"score"`
}

// Stats holds aggregate store statistics.
type Stats struct {
	Documents     int                 `json:"documents"`
	ByScope       map[Scope]int       `json:"by_scope"`
	ByContentType map[ContentType]int `json:"by_content_type"`
	Expired       int                 `json:"expired"`
	ActiveTurns   int                 `json:"active_turns"`
	ArchivedTurns int                 `json:"archived_turns"`
}
