package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/turnloop/internal/memory"
	"github.com/HendryAvila/turnloop/internal/turn"
)

func laptopWindow() []memory.TurnEntry {
	return []memory.TurnEntry{{
		Number: 4,
		Query:  "find me a budget gaming laptop",
		Answer: "The MSI GF63 at $699 is the best pick.",
	}}
}

func TestResolve_TemporalReferenceGroundedInWindow(t *testing.T) {
	res, err := New().Resolve(context.Background(), "what's the price now?", laptopWindow())
	require.NoError(t, err)

	assert.Equal(t, turn.ResolutionResolved, res.Status)
	assert.Equal(t, turn.QueryFollowUp, res.Type)
	assert.Equal(t, "MSI GF63", res.Anchor)
	assert.Equal(t, int64(4), res.AnchorTurn)
	assert.Equal(t, "what's the price of MSI GF63 now?", res.Resolved)
	assert.Equal(t, []string{"now"}, res.References)
}

func TestResolve_NoWindowPassesThrough(t *testing.T) {
	res, err := New().Resolve(context.Background(), "what's the price now?", nil)
	require.NoError(t, err)

	assert.Equal(t, turn.ResolutionFailed, res.Status)
	assert.Equal(t, "what's the price now?", res.Resolved, "unresolved queries pass through unchanged")
	assert.Equal(t, turn.QueryGeneralQuestion, res.Type)
	assert.Empty(t, res.Anchor)
}

func TestResolve_Pronouns(t *testing.T) {
	window := []memory.TurnEntry{
		{Number: 2, Query: "compare the Dell XPS 13 with the MacBook Air"},
		{Number: 1, Query: "tell me about the ThinkPad X1"},
	}

	tests := []struct {
		query string
		want  string
	}{
		{"how heavy is it?", "how heavy is Dell XPS?"},
		{"what about its battery life", "what about Dell XPS's battery life"},
		{"is that available?", "is Dell XPS available?"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := New().Resolve(context.Background(), tt.query, window)
			require.NoError(t, err)
			assert.Equal(t, turn.ResolutionResolved, res.Status)
			assert.Equal(t, tt.want, res.Resolved)
			assert.Equal(t, int64(2), res.AnchorTurn, "most recent turn wins")
		})
	}
}

func TestResolve_NoReferenceNeeded(t *testing.T) {
	tests := []struct {
		query string
		typ   turn.QueryType
	}{
		{"best laptops under $800", turn.QueryNewTopic},
		{"is the MSI GF63 still available?", turn.QuerySpecificContent},
		{"how much is this laptop?", turn.QueryGeneralQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := New().Resolve(context.Background(), tt.query, laptopWindow())
			require.NoError(t, err)
			assert.NotEqual(t, turn.ResolutionResolved, res.Status)
			assert.NotEqual(t, turn.ResolutionFailed, res.Status)
			assert.Equal(t, tt.query, res.Resolved)
			assert.Equal(t, tt.typ, res.Type)
		})
	}
}

func TestResolve_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Resolve(ctx, "anything", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQualifiers_Verbatim(t *testing.T) {
	got := Qualifiers("Cheapest gaming laptop under $800, most reliable brand, within 3 days")
	assert.Equal(t, []string{"Cheapest", "under $800", "most reliable", "within 3 days"}, got)

	assert.Equal(t, []string{"best value"}, Qualifiers("best value monitor"))
	assert.Empty(t, Qualifiers("a laptop"))
}

func TestEntities(t *testing.T) {
	assert.Equal(t, []string{"MSI GF63"}, Entities("The MSI GF63 at $699 is the best pick."))
	assert.Equal(t, []string{"Dell XPS", "MacBook Air"}, Entities("compare the Dell XPS 13 with the MacBook Air"))
	assert.Equal(t, []string{"rtx4060"}, Entities("laptops with an rtx4060"))
	assert.Empty(t, Entities("What is the price? I wonder."))
}

func TestReferences_DeterminerWithNoun(t *testing.T) {
	assert.Empty(t, References("is this laptop good"))
	refs := References("how much is that?")
	require.Len(t, refs, 1)
	assert.Equal(t, "that", refs[0].Lower)
}
