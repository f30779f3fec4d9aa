package synth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/turnloop/internal/turn"
)

func researchedRecord() *turn.Record {
	rec := turn.NewRecord("t1", "alice", 1, "cheapest MSI GF63 price", turn.ModeReadOnly)
	rec.Resolution = &turn.Resolution{Resolved: "cheapest MSI GF63 price", Qualifiers: []string{"cheapest"}}
	rec.Bundle = &turn.Bundle{Qualifiers: []string{"cheapest"}}
	rec.Plans = []turn.Plan{{
		Attempt: 1,
		Route:   turn.RouteCoordinator,
		Goals: []turn.Goal{
			{ID: "g1", Description: "find MSI GF63 price", Status: turn.GoalCompleted},
			{ID: "g2", Description: "check stock", Status: turn.GoalBlocked, LastError: "timeout"},
		},
		Results: []turn.Result{{CallID: "c1", Tool: "web_search", GoalID: "g1", Success: true}},
		Claims: []turn.Claim{
			{ID: "c1-c1", Statement: "MSI GF63 is listed at $649", Confidence: 0.6, Source: "https://shop.example/gf63", CallID: "c1"},
			{ID: "c1-c2", Statement: "The cheapest MSI GF63 offer is $599", Confidence: 0.6, Source: "https://deals.example/gf63", CallID: "c1"},
			{ID: "c1-c3", Statement: "MSI GF63 weighs 1.86 kg", Confidence: 0.9, Source: "https://spec.example/gf63", CallID: "c1"},
		},
	}}
	return rec
}

func TestSynthesize_CitesClaimsInPriorityOrder(t *testing.T) {
	s := New(DefaultConfig(), nil)
	ans, err := s.Synthesize(context.Background(), researchedRecord(), "")
	require.NoError(t, err)

	require.Len(t, ans.Citations, 3)
	// Qualifier match beats confidence, then confidence orders the rest.
	assert.Equal(t, "c1-c2", ans.Citations[0].ClaimID)
	assert.Equal(t, "c1-c3", ans.Citations[1].ClaimID)
	assert.Equal(t, "c1-c1", ans.Citations[2].ClaimID)
	assert.Equal(t, []string{"c1-c2", "c1-c3", "c1-c1"}, ans.CitedClaims)

	assert.Contains(t, ans.Text, "- The cheapest MSI GF63 offer is $599 [1]")
	assert.Contains(t, ans.Text, "Could not verify: check stock")
	assert.Contains(t, ans.Text, "[1] https://deals.example/gf63")
	assert.False(t, ans.Compact)
	assert.Equal(t, 1, ans.Attempt)

	cov, ok := ans.Check(CheckCoverage)
	require.True(t, ok)
	assert.True(t, cov.Passed)
	assert.Equal(t, "1/2 goals covered", cov.Detail)
	for _, name := range []string{CheckTraceability, CheckGrounded, CheckFormat, CheckMetadata} {
		c, ok := ans.Check(name)
		require.True(t, ok, name)
		assert.True(t, c.Passed, "%s: %s", name, c.Detail)
	}
}

func TestSynthesize_RevisionIsCompact(t *testing.T) {
	s := New(DefaultConfig(), nil)
	rec := researchedRecord()
	first, err := s.Synthesize(context.Background(), rec, "")
	require.NoError(t, err)
	rec.Answers = append(rec.Answers, first)

	ans, err := s.Synthesize(context.Background(), rec, "answer too long")
	require.NoError(t, err)
	assert.True(t, ans.Compact)
	assert.Equal(t, 2, ans.Attempt)
	assert.NotContains(t, ans.Text, "Sources:")
	assert.True(t, strings.HasPrefix(ans.Text, "The cheapest MSI GF63 offer is $599 [1]; "))
}

func TestSynthesize_NoEvidence(t *testing.T) {
	rec := turn.NewRecord("t2", "alice", 1, "what is the airspeed of a swallow", turn.ModeReadOnly)
	rec.Plans = []turn.Plan{{
		Attempt: 1,
		Route:   turn.RouteCoordinator,
		Goals:   []turn.Goal{{ID: "g1", Description: "find airspeed", Status: turn.GoalBlocked}},
	}}

	ans, err := New(DefaultConfig(), nil).Synthesize(context.Background(), rec, "")
	require.NoError(t, err)
	assert.Empty(t, ans.Citations)
	assert.Contains(t, ans.Text, "I could not find evidence to answer: what is the airspeed of a swallow")

	cov, _ := ans.Check(CheckCoverage)
	assert.False(t, cov.Passed)
	assert.Equal(t, "0/1 goals covered", cov.Detail)
}

func TestSynthesize_FromContextBundle(t *testing.T) {
	rec := turn.NewRecord("t3", "alice", 2, "gf63 weight", turn.ModeReadOnly)
	rec.Bundle = &turn.Bundle{
		Sufficient: true,
		Research: []turn.BundleItem{
			{DocID: "d1", Topic: "gf63 specs", Content: "MSI GF63 weighs 1.86 kg\nmore detail", Quality: 0.8, Freshness: "fetched 2 hours ago"},
			{DocID: "d2", Topic: "old price", Content: "MSI GF63 costs $700", Quality: 0.9, Stale: true},
		},
	}
	rec.Plans = []turn.Plan{{Attempt: 1, Route: turn.RouteSynthesis}}

	ans, err := New(DefaultConfig(), nil).Synthesize(context.Background(), rec, "")
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "d1", ans.Citations[0].DocID)
	assert.Empty(t, ans.CitedClaims)
	assert.Contains(t, ans.Text, "- MSI GF63 weighs 1.86 kg [1]")
	assert.Contains(t, ans.Text, "[1] gf63 specs (fetched 2 hours ago) (doc d1)")
	assert.NotContains(t, ans.Text, "$700")

	cov, _ := ans.Check(CheckCoverage)
	assert.True(t, cov.Passed)
	trace, _ := ans.Check(CheckTraceability)
	assert.True(t, trace.Passed)
}

func TestSynthesize_ClaimWithoutToolResultFailsTraceability(t *testing.T) {
	rec := researchedRecord()
	rec.Plans[0].Results = nil

	ans, err := New(DefaultConfig(), nil).Synthesize(context.Background(), rec, "")
	require.NoError(t, err)
	trace, _ := ans.Check(CheckTraceability)
	assert.False(t, trace.Passed)
}

func TestSynthesize_ReadWriteListsActions(t *testing.T) {
	rec := researchedRecord()
	rec.Mode = turn.ModeReadWrite
	rec.Plans[0].Results = append(rec.Plans[0].Results, turn.Result{
		CallID: "c2", Tool: "file_write", GoalID: "g1", Success: true, Payload: "wrote 12 bytes to notes.txt",
	})

	ans, err := New(DefaultConfig(), nil).Synthesize(context.Background(), rec, "")
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "Actions performed:\n- wrote 12 bytes to notes.txt")
	format, _ := ans.Check(CheckFormat)
	assert.True(t, format.Passed)
}

func TestSynthesize_LengthLimit(t *testing.T) {
	s := New(Config{MaxChars: 40}, nil)
	ans, err := s.Synthesize(context.Background(), researchedRecord(), "")
	require.NoError(t, err)
	format, _ := ans.Check(CheckFormat)
	assert.False(t, format.Passed)
}

func TestSynthesize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultConfig(), nil).Synthesize(ctx, researchedRecord(), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesize_DropsClaimsWithoutLocator(t *testing.T) {
	rec := researchedRecord()
	// A search hit without a url yields claims with no source.
	rec.Plans[0].Claims = append(rec.Plans[0].Claims, turn.Claim{
		ID: "c1-c4", Statement: "MSI GF63 ships with 16 GB of memory", Confidence: 0.9, CallID: "c1",
	})

	ans, err := New(DefaultConfig(), nil).Synthesize(context.Background(), rec, "")
	require.NoError(t, err)

	require.Len(t, ans.Citations, 3)
	assert.NotContains(t, ans.CitedClaims, "c1-c4")
	assert.NotContains(t, ans.Text, "16 GB")
	for _, name := range []string{CheckMetadata, CheckGrounded, CheckTraceability} {
		c, _ := ans.Check(name)
		assert.True(t, c.Passed, "%s: %s", name, c.Detail)
	}
}
