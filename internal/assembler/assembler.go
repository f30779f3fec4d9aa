// Package assembler builds the bounded context bundle for a turn from a
// single Document Store search.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/resolver"
	"github.com/HendryAvila/turnloop/internal/turn"
)

// Searcher is the part of the Document Store the assembler reads.
type Searcher interface {
	Search(ctx context.Context, q memory.Query) ([]memory.Result, error)
}

// Config bounds a bundle.
type Config struct {
	// BudgetTokens caps the estimated size of all bundle items.
	BudgetTokens int
	// MaxResults is the search limit.
	MaxResults int
	// SufficientQuality is the minimum quality of fresh research that
	// makes the bundle sufficient on its own.
	SufficientQuality float64
	// MaxItemChars truncates item content before budgeting.
	MaxItemChars int
}

// DefaultConfig returns the default bundle bounds.
func DefaultConfig() Config {
	return Config{
		BudgetTokens:      2000,
		MaxResults:        20,
		SufficientQuality: 0.7,
		MaxItemChars:      600,
	}
}

// qualifierBoost is added to the score of items that mention a qualifier.
const qualifierBoost = 0.1

// Assembler builds context bundles.
type Assembler struct {
	store  Searcher
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New creates an Assembler. A nil logger is replaced with a no-op.
func New(store Searcher, cfg Config, logger *zap.Logger) *Assembler {
	def := DefaultConfig()
	if cfg.BudgetTokens <= 0 {
		cfg.BudgetTokens = def.BudgetTokens
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.SufficientQuality <= 0 {
		cfg.SufficientQuality = def.SufficientQuality
	}
	if cfg.MaxItemChars <= 0 {
		cfg.MaxItemChars = def.MaxItemChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, cfg: cfg, now: time.Now, logger: logger.Named("assembler")}
}

type ranked struct {
	res   memory.Result
	score float64
}

// Assemble runs one store search for the resolved query and returns the
// bundle. Qualifiers from the raw query are carried verbatim.
func (a *Assembler) Assemble(ctx context.Context, userID string, res turn.Resolution) (*turn.Bundle, error) {
	query := res.Resolved
	if query == "" {
		query = res.Original
	}

	results, err := a.store.Search(ctx, memory.Query{
		Text:           query,
		Owner:          userID,
		IncludeExpired: true,
		Limit:          a.cfg.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("assembler: search: %w", err)
	}

	qualifiers := res.Qualifiers
	if qualifiers == nil {
		qualifiers = resolver.Qualifiers(res.Original)
	}

	items := make([]ranked, 0, len(results))
	for _, r := range results {
		score := r.Score
		if mentionsAny(r.Content, qualifiers) {
			score += qualifierBoost
		}
		items = append(items, ranked{res: r, score: score})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })

	now := a.now()
	b := &turn.Bundle{Query: query, Qualifiers: qualifiers}
	for _, it := range items {
		// Tool tallies describe tools, not the user's topic.
		if it.res.HasType(memory.ContentToolReliability) {
			continue
		}
		item := a.item(it.res, now)
		cost := memory.EstimateTokens(item.Content)
		if b.Tokens+cost > a.cfg.BudgetTokens {
			continue
		}
		b.Tokens += cost

		switch {
		case it.res.HasType(memory.ContentTurnRecord):
			b.PriorTurns = append(b.PriorTurns, item)
		case it.res.HasType(memory.ContentPreference), it.res.HasType(memory.ContentSitePattern):
			b.Preferences = append(b.Preferences, item)
		default:
			b.Research = append(b.Research, item)
		}
	}

	b.Sufficient, b.Sufficiency = a.sufficiency(b.Research)
	a.logger.Debug("bundle assembled",
		zap.String("user_id", userID),
		zap.Int("results", len(results)),
		zap.Int("prior_turns", len(b.PriorTurns)),
		zap.Int("preferences", len(b.Preferences)),
		zap.Int("research", len(b.Research)),
		zap.Int("tokens", b.Tokens),
		zap.Bool("sufficient", b.Sufficient),
	)
	return b, nil
}

func (a *Assembler) item(r memory.Result, now time.Time) turn.BundleItem {
	types := make([]string, len(r.ContentTypes))
	for i, ct := range r.ContentTypes {
		types[i] = string(ct)
	}
	item := turn.BundleItem{
		DocID:        r.ID,
		Topic:        r.Topic,
		Content:      memory.Truncate(r.Content, a.cfg.MaxItemChars),
		ContentTypes: types,
		Relevance:    r.Relevance,
		Quality:      r.Quality,
		AgeHours:     r.AgeHours(now),
		Freshness:    "fetched " + humanize.RelTime(r.CreatedAt, now, "ago", "from now"),
		Stale:        r.Expired(now),
	}
	if item.Stale {
		item.Freshness += ", expired"
	}
	return item
}

func (a *Assembler) sufficiency(research []turn.BundleItem) (bool, string) {
	if len(research) == 0 {
		return false, "no cached research matches the query"
	}
	var fresh, stale int
	best := 0.0
	for _, it := range research {
		if it.Stale {
			stale++
			continue
		}
		fresh++
		if it.Quality > best {
			best = it.Quality
		}
	}
	switch {
	case fresh == 0:
		return false, fmt.Sprintf("%d cached research items, all expired", stale)
	case best < a.cfg.SufficientQuality:
		return false, fmt.Sprintf("%d fresh research items, best quality %.2f is below %.2f", fresh, best, a.cfg.SufficientQuality)
	default:
		return true, fmt.Sprintf("%d fresh research items, best quality %.2f", fresh, best)
	}
}

func mentionsAny(content string, qualifiers []string) bool {
	lc := strings.ToLower(content)
	for _, q := range qualifiers {
		if q != "" && strings.Contains(lc, strings.ToLower(q)) {
			return true
		}
	}
	return false
}
