package turn

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func init() {
	timeNow = func() time.Time {
		return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	}
}

func fullRecord() *Record {
	r := NewRecord("trace-1", "ana", 7, "what's the price now?", ModeReadOnly)
	r.Resolution = &Resolution{
		Original:   "what's the price now?",
		Resolved:   "what's the price of MSI GF63 now?",
		Type:       QueryFollowUp,
		Status:     ResolutionResolved,
		References: []string{"now"},
		Anchor:     "MSI GF63",
		AnchorTurn: 6,
		Qualifiers: []string{"cheapest"},
	}
	r.Admission = &Admission{Decision: DecisionProceed, Confidence: 0.85}
	r.Bundle = &Bundle{
		Query:       r.Resolution.Resolved,
		Research:    []BundleItem{{DocID: "d1", Topic: "laptops/msi", Content: "MSI GF63 $699", ContentTypes: []string{"evidence"}, Relevance: 0.5, Quality: 0.7, AgeHours: 3, Freshness: "fetched 3 hours ago"}},
		Sufficient:  false,
		Sufficiency: "cached price is stale",
		Tokens:      12,
	}
	exp := time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC)
	r.Plans = []Plan{{
		Attempt: 1,
		Route:   RouteCoordinator,
		Goals:   []Goal{{ID: "g1", Description: "price of MSI GF63", Status: GoalCompleted, Attempts: 1}},
		Calls:   []Call{{ID: "c1", Tool: "web_search", Args: map[string]any{"query": "MSI GF63 price"}, GoalID: "g1", Attempt: 1}},
		Results: []Result{{CallID: "c1", Tool: "web_search", GoalID: "g1", Success: true, Payload: `{"results":[]}`, Elapsed: 1500 * time.Millisecond}},
		Claims: []Claim{{
			ID: "k1", Statement: "MSI GF63 costs $679", Confidence: ConfidenceMedium, Source: "https://shop.example/msi",
			CallID: "c1", GoalID: "g1", Category: TTLVolatile, TTLHours: 6, ExtractedAt: timeNow().UTC(),
		}},
		Candidates: []MemoryCandidate{{ID: "trace-1-g1", GoalID: "g1", Topic: "research/msi-gf63", Purpose: "price", Content: "MSI GF63 costs $679", ContentTypes: []string{"evidence"}, Quality: 0.6, ExpiresAt: &exp, ClaimIDs: []string{"k1"}}},
		Iterations: 1,
	}}
	r.Answers = []Answer{{
		Attempt:     1,
		Text:        "MSI GF63 costs $679 [1].",
		Citations:   []Citation{{N: 1, ClaimID: "k1", Locator: "https://shop.example/msi"}},
		CitedClaims: []string{"k1"},
		Checklist:   []CheckItem{{Name: "evidence_traceability", Passed: true}},
	}}
	r.Validations = []Validation{{Verdict: VerdictApprove}}
	r.UsedDocuments = []string{"d1"}
	return r
}

func TestRecord_RoundTrip(t *testing.T) {
	r := fullRecord()
	if err := r.Seal(Outcome{Status: OutcomeApproved, Answer: "MSI GF63 costs $679 [1]."}); err != nil {
		t.Fatal(err)
	}

	data, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_AdvanceOrdering(t *testing.T) {
	r := NewRecord("t", "ana", 1, "q", ModeReadOnly)
	for _, s := range []Stage{StageResolved, StageAdmitted, StageAssembled, StagePlanned, StageSynthesized, StageValidated} {
		if err := r.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	// A retry loops back to planning.
	if err := r.Advance(StagePlanned); err != nil {
		t.Errorf("retry back to planned: %v", err)
	}
	// Assembly never repeats.
	if err := r.Advance(StageAssembled); err == nil {
		t.Error("returning to assembled should fail")
	}
	if err := r.Advance("bogus"); err == nil {
		t.Error("unknown stage accepted")
	}
}

func TestRecord_SealOnce(t *testing.T) {
	r := NewRecord("t", "ana", 1, "q", ModeReadOnly)
	if err := r.Seal(Outcome{Status: OutcomeFailed}); err != nil {
		t.Fatal(err)
	}
	if err := r.Seal(Outcome{Status: OutcomeApproved}); err == nil {
		t.Error("second Seal should fail")
	}
	if err := r.Advance(StagePlanned); err == nil {
		t.Error("Advance after Seal should fail")
	}
}

func TestRecord_SummaryAndCounters(t *testing.T) {
	r := fullRecord()
	r.Validations = []Validation{{Verdict: VerdictRetry}, {Verdict: VerdictRevise}, {Verdict: VerdictRetry}}
	if r.Retries() != 2 || r.Revisions() != 1 {
		t.Errorf("Retries = %d Revisions = %d", r.Retries(), r.Revisions())
	}
	_ = r.Seal(Outcome{Status: OutcomeApproved, Answer: "\nMSI GF63 costs $679 [1].\nmore"})

	s := r.Summary()
	if !strings.Contains(s, "Q: what's the price of MSI GF63 now?") {
		t.Errorf("Summary missing resolved query: %q", s)
	}
	if !strings.Contains(s, "A: MSI GF63 costs $679 [1].") || strings.Contains(s, "more") {
		t.Errorf("Summary should carry the first answer line only: %q", s)
	}
	if len(r.AllClaims()) != 1 {
		t.Errorf("AllClaims = %d, want 1", len(r.AllClaims()))
	}
}

func TestCategorizeTTL(t *testing.T) {
	tests := []struct {
		in   string
		want TTLCategory
	}{
		{"MSI GF63 costs $699", TTLVolatile},
		{"Currently in stock at Micro Center", TTLVolatile},
		{"The GF63 was released in 2019", TTLStable},
		{"It has an RTX 4050 GPU and $799 price", TTLVolatile},
		{"Reviewers liked the keyboard", TTLGeneral},
	}
	for _, tt := range tests {
		if got := CategorizeTTL(tt.in); got != tt.want {
			t.Errorf("CategorizeTTL(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if TTLVolatile.Hours() >= TTLGeneral.Hours() || TTLGeneral.Hours() >= TTLStable.Hours() {
		t.Error("TTL hours must grow volatile < general < stable")
	}
}

func TestIsSpeculative(t *testing.T) {
	if !IsSpeculative("The GF64 is rumored to launch soon") {
		t.Error("rumor should be speculative")
	}
	if !IsSpeculative("Prices may drop next week") {
		t.Error("may should be speculative")
	}
	if IsSpeculative("The GF63 weighs 1.86 kg") {
		t.Error("plain fact flagged speculative")
	}
}
