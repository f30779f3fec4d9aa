package turn

import (
	"strings"
	"time"
)

// --- Confidence tiers ---

// Confidence values assigned at extraction time.
const (
	// ConfidenceHigh is for facts read from direct structured tool output.
	ConfidenceHigh = 0.9
	// ConfidenceMedium is for facts lifted from indirect text.
	ConfidenceMedium = 0.6
	// ConfidenceLow is for speculative statements.
	ConfidenceLow = 0.3
)

// --- TTL categories ---

// TTLCategory groups claims by how fast their truth decays.
type TTLCategory string

const (
	TTLVolatile TTLCategory = "volatile"
	TTLGeneral  TTLCategory = "general"
	TTLStable   TTLCategory = "stable"
)

// Hours returns the TTL for a category.
func (c TTLCategory) Hours() int {
	switch c {
	case TTLVolatile:
		return 6
	case TTLStable:
		return 720
	default:
		return 72
	}
}

var (
	volatileMarkers = []string{"price", "$", "€", "£", "cost", "in stock", "out of stock",
		"availability", "available", "sale", "deal", "discount", "shipping"}
	stableMarkers = []string{"spec", "specification", "released", "release date", "founded",
		"history", "manufactured", "dimensions", "weight", "processor", "cpu", "gpu", "ram"}
	speculativeMarkers = []string{"rumor", "rumour", "reportedly", "might", "may ", "could ",
		"expected to", "unconfirmed", "speculat", "allegedly", "leak"}
)

// CategorizeTTL picks a TTL category from the wording of a statement.
// Volatile wins over stable when both appear.
func CategorizeTTL(statement string) TTLCategory {
	s := strings.ToLower(statement)
	if containsAny(s, volatileMarkers) {
		return TTLVolatile
	}
	if containsAny(s, stableMarkers) {
		return TTLStable
	}
	return TTLGeneral
}

// IsSpeculative reports whether a statement hedges its own truth.
func IsSpeculative(statement string) bool {
	return containsAny(strings.ToLower(statement)+" ", speculativeMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// --- Claims ---

// Claim is an atomic fact extracted from a tool result. Claims are
// written once and never changed within a turn.
type Claim struct {
	ID          string      `json:"id"`
	Statement   string      `json:"statement"`
	Confidence  float64     `json:"confidence"`
	Source      string      `json:"source"`
	CallID      string      `json:"call_id"`
	GoalID      string      `json:"goal_id"`
	Category    TTLCategory `json:"category"`
	TTLHours    int         `json:"ttl_hours"`
	ExtractedAt time.Time   `json:"extracted_at"`
}

// ExpiresAt returns when the claim should no longer be trusted.
func (c Claim) ExpiresAt() time.Time {
	return c.ExtractedAt.Add(time.Duration(c.TTLHours) * time.Hour)
}

// --- Memory candidates ---

// MemoryCandidate is a document staged by the coordinator. It becomes a
// stored document only when the Validator approves the turn.
type MemoryCandidate struct {
	ID           string     `json:"id"`
	GoalID       string     `json:"goal_id,omitempty"`
	Topic        string     `json:"topic"`
	Keywords     []string   `json:"keywords,omitempty"`
	Purpose      string     `json:"purpose"`
	Content      string     `json:"content"`
	ContentTypes []string   `json:"content_types"`
	Quality      float64    `json:"quality"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ClaimIDs     []string   `json:"claim_ids,omitempty"`
}
