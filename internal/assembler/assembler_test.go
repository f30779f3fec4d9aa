package assembler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/turn"
)

type fakeSearcher struct {
	calls   int
	queries []memory.Query
	results []memory.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q memory.Query) ([]memory.Result, error) {
	f.calls++
	f.queries = append(f.queries, q)
	return f.results, f.err
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func result(id string, score, quality float64, age time.Duration, content string, types ...memory.ContentType) memory.Result {
	created := now.Add(-age)
	return memory.Result{
		Document: memory.Document{
			ID:           id,
			Topic:        "laptops",
			Content:      content,
			ContentTypes: types,
			Quality:      quality,
			CreatedAt:    created,
		},
		Relevance: score,
		Score:     score,
	}
}

func expiring(r memory.Result, ttl time.Duration) memory.Result {
	exp := r.CreatedAt.Add(ttl)
	r.ExpiresAt = &exp
	return r
}

func newAssembler(s Searcher, cfg Config) *Assembler {
	a := New(s, cfg, nil)
	a.now = func() time.Time { return now }
	return a
}

func TestAssemble_PartitionsAndAnnotates(t *testing.T) {
	fs := &fakeSearcher{results: []memory.Result{
		result("r1", 0.8, 0.9, 3*time.Hour, "MSI GF63 is $699 at Shop", memory.ContentResearch),
		result("t1", 0.6, 0.5, 24*time.Hour, "Q: budget laptop\nA: MSI GF63", memory.ContentTurnRecord),
		result("p1", 0.5, 0.8, 48*time.Hour, "prefers 16GB RAM", memory.ContentPreference),
		result("s1", 0.4, 0.6, 48*time.Hour, "shop.example lists prices without tax", memory.ContentSitePattern),
	}}
	a := newAssembler(fs, DefaultConfig())

	b, err := a.Assemble(context.Background(), "u1", turn.Resolution{
		Original: "what's the price now?",
		Resolved: "what's the price of MSI GF63 now?",
	})
	require.NoError(t, err)

	require.Equal(t, 1, fs.calls)
	assert.Equal(t, "what's the price of MSI GF63 now?", fs.queries[0].Text)
	assert.Equal(t, "u1", fs.queries[0].Owner)
	assert.True(t, fs.queries[0].IncludeExpired)

	require.Len(t, b.Research, 1)
	require.Len(t, b.PriorTurns, 1)
	require.Len(t, b.Preferences, 2)

	r := b.Research[0]
	assert.Equal(t, "r1", r.DocID)
	assert.InDelta(t, 3.0, r.AgeHours, 0.001)
	assert.Equal(t, "fetched 3 hours ago", r.Freshness)
	assert.False(t, r.Stale)
	assert.True(t, b.Sufficient)
	assert.Contains(t, b.Sufficiency, "best quality 0.90")
	assert.Positive(t, b.Tokens)
}

func TestAssemble_SkipsToolTallies(t *testing.T) {
	fs := &fakeSearcher{results: []memory.Result{
		result("tools/web_search", 0.9, 1, time.Hour, "web_search succeeded 9 of 9 calls", memory.ContentToolReliability),
	}}
	b, err := newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", turn.Resolution{Original: "web search price"})
	require.NoError(t, err)

	assert.Empty(t, b.Items())
	assert.Zero(t, b.Tokens)
	assert.False(t, b.Sufficient)
}

func TestAssemble_StaleResearchIsInsufficient(t *testing.T) {
	fs := &fakeSearcher{results: []memory.Result{
		expiring(result("r1", 0.8, 0.9, 10*time.Hour, "GF63 price $699", memory.ContentResearch), 6*time.Hour),
	}}
	b, err := newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", turn.Resolution{Original: "gf63 price"})
	require.NoError(t, err)

	require.Len(t, b.Research, 1)
	assert.True(t, b.Research[0].Stale)
	assert.True(t, strings.HasSuffix(b.Research[0].Freshness, "expired"))
	assert.False(t, b.Sufficient)
	assert.Contains(t, b.Sufficiency, "all expired")
}

func TestAssemble_LowQualityIsInsufficient(t *testing.T) {
	fs := &fakeSearcher{results: []memory.Result{
		result("r1", 0.8, 0.4, time.Hour, "rumor about GF63", memory.ContentEvidence),
	}}
	b, err := newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", turn.Resolution{Original: "gf63"})
	require.NoError(t, err)
	assert.False(t, b.Sufficient)

	fs.results = nil
	b, err = newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", turn.Resolution{Original: "gf63"})
	require.NoError(t, err)
	assert.False(t, b.Sufficient)
	assert.Equal(t, "no cached research matches the query", b.Sufficiency)
}

func TestAssemble_QualifiersPreservedAndBoosted(t *testing.T) {
	fs := &fakeSearcher{results: []memory.Result{
		result("plain", 0.50, 0.5, time.Hour, "GF63 review roundup", memory.ContentResearch),
		result("cheap", 0.45, 0.5, time.Hour, "the cheapest GF63 listing", memory.ContentResearch),
	}}
	res := turn.Resolution{Original: "Cheapest GF63 under $800", Qualifiers: []string{"Cheapest", "under $800"}}

	b, err := newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", res)
	require.NoError(t, err)

	assert.Equal(t, []string{"Cheapest", "under $800"}, b.Qualifiers)
	require.Len(t, b.Research, 2)
	assert.Equal(t, "cheap", b.Research[0].DocID, "qualifier match ranks first")
}

func TestAssemble_TokenBudget(t *testing.T) {
	long := strings.Repeat("word ", 200) // 1000 chars
	fs := &fakeSearcher{results: []memory.Result{
		result("a", 0.9, 0.9, time.Hour, long, memory.ContentResearch),
		result("b", 0.8, 0.9, time.Hour, long, memory.ContentResearch),
		result("c", 0.7, 0.9, time.Hour, "short", memory.ContentResearch),
	}}
	cfg := DefaultConfig()
	cfg.BudgetTokens = 200
	cfg.MaxItemChars = 600

	b, err := newAssembler(fs, cfg).Assemble(context.Background(), "u1", turn.Resolution{Original: "word"})
	require.NoError(t, err)

	ids := []string{}
	for _, it := range b.Research {
		ids = append(ids, it.DocID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
	assert.LessOrEqual(t, b.Tokens, 200)
}

func TestAssemble_SearchError(t *testing.T) {
	fs := &fakeSearcher{err: errors.New("disk gone")}
	_, err := newAssembler(fs, DefaultConfig()).Assemble(context.Background(), "u1", turn.Resolution{Original: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestAssemble_AgainstStore(t *testing.T) {
	store, err := memory.New(memory.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	_, err = store.Commit(ctx, memory.Document{
		Topic:        "laptops/msi",
		Content:      "MSI GF63 price is $699",
		ContentTypes: []memory.ContentType{memory.ContentResearch},
		Scope:        memory.ScopeGlobal,
		Quality:      0.8,
	}, 0)
	require.NoError(t, err)

	b, err := New(store, DefaultConfig(), nil).Assemble(ctx, "u1", turn.Resolution{Original: "MSI GF63 price"})
	require.NoError(t, err)
	require.Len(t, b.Research, 1)
	assert.True(t, b.Sufficient)
}
