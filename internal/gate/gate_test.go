package gate

import (
	"context"
	"strings"
	"testing"

	"github.com/HendryAvila/turnloop/internal/turn"
)

// --- DefaultDimensions ---

func TestDefaultDimensions_AllHaveNonZeroWeight(t *testing.T) {
	dims := DefaultDimensions()
	if len(dims) != 4 {
		t.Fatalf("DefaultDimensions() returned %d dimensions, want 4", len(dims))
	}
	for _, d := range dims {
		if d.Weight <= 0 {
			t.Errorf("dimension %s has weight %d, want > 0", d.Name, d.Weight)
		}
		if d.Score != 0 || d.Blocking {
			t.Errorf("dimension %s should start unscored", d.Name)
		}
	}
}

// --- CalculateScore ---

func TestCalculateScore_Weighted(t *testing.T) {
	dims := []Dimension{
		{Name: "a", Weight: 3, Score: 100},
		{Name: "b", Weight: 1, Score: 0},
	}
	if got := CalculateScore(dims); got != 75 {
		t.Errorf("CalculateScore() = %d, want 75", got)
	}
	if got := CalculateScore(nil); got != 0 {
		t.Errorf("CalculateScore(nil) = %d, want 0", got)
	}
}

// --- Admit ---

func admit(t *testing.T, res turn.Resolution) turn.Admission {
	t.Helper()
	if res.Resolved == "" {
		res.Resolved = res.Original
	}
	adm, err := New().Admit(context.Background(), res)
	if err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	return adm
}

func TestAdmit_UnanchoredReferenceClarifies(t *testing.T) {
	adm := admit(t, turn.Resolution{
		Original:   "what's the price now?",
		Status:     turn.ResolutionFailed,
		References: []string{"now"},
	})
	if adm.Decision != turn.DecisionClarify {
		t.Fatalf("Decision = %s, want CLARIFY", adm.Decision)
	}
	if !strings.Contains(adm.Question, `"now"`) {
		t.Errorf("question should name the reference, got %q", adm.Question)
	}
	if adm.Confidence >= 1 {
		t.Errorf("Confidence = %v, want < 1", adm.Confidence)
	}
}

func TestAdmit_ResolvedReferenceProceeds(t *testing.T) {
	adm := admit(t, turn.Resolution{
		Original:   "what's the price now?",
		Resolved:   "what's the price of MSI GF63 now?",
		Status:     turn.ResolutionResolved,
		References: []string{"now"},
		Anchor:     "MSI GF63",
	})
	if adm.Decision != turn.DecisionProceed {
		t.Fatalf("Decision = %s, want PROCEED (reasons %v)", adm.Decision, adm.Reasons)
	}
	if adm.Question != "" {
		t.Errorf("PROCEED must not carry a question, got %q", adm.Question)
	}
}

func TestAdmit_FailedResolutionWithExplicitObjectProceeds(t *testing.T) {
	adm := admit(t, turn.Resolution{
		Original:   "what's the price of gaming laptops now?",
		Status:     turn.ResolutionFailed,
		References: []string{"now"},
	})
	if adm.Decision != turn.DecisionProceed {
		t.Errorf("Decision = %s, want PROCEED", adm.Decision)
	}
}

func TestAdmit_IncompleteQueries(t *testing.T) {
	for _, q := range []string{"", "compare the battery life of", "find flights from Berlin to"} {
		adm := admit(t, turn.Resolution{Original: q, Status: turn.ResolutionNotNeeded})
		if adm.Decision != turn.DecisionClarify {
			t.Errorf("%q: Decision = %s, want CLARIFY", q, adm.Decision)
		}
		if adm.Question == "" {
			t.Errorf("%q: missing clarification question", q)
		}
	}

	adm := admit(t, turn.Resolution{Original: "what are you thinking of?", Status: turn.ResolutionNotNeeded})
	if adm.Decision != turn.DecisionProceed {
		t.Errorf("a question ending in a preposition is complete, got %s", adm.Decision)
	}
}

func TestAdmit_IncompatibleReadings(t *testing.T) {
	adm := admit(t, turn.Resolution{Original: "add and remove the backup job", Status: turn.ResolutionNotNeeded})
	if adm.Decision != turn.DecisionClarify {
		t.Fatalf("Decision = %s, want CLARIFY", adm.Decision)
	}
	if adm.Question != "Do you want to add or remove?" {
		t.Errorf("Question = %q", adm.Question)
	}

	adm = admit(t, turn.Resolution{Original: "should I buy or sell my shares?", Status: turn.ResolutionNotNeeded})
	if adm.Decision != turn.DecisionProceed {
		t.Errorf("asking which action is better is one reading, got %s", adm.Decision)
	}
}

func TestAdmit_PlainQueryFullConfidence(t *testing.T) {
	adm := admit(t, turn.Resolution{Original: "best budget gaming laptops", Status: turn.ResolutionNotNeeded})
	if adm.Decision != turn.DecisionProceed {
		t.Fatalf("Decision = %s, want PROCEED", adm.Decision)
	}
	if adm.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", adm.Confidence)
	}
	if len(adm.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", adm.Reasons)
	}
}

func TestAdmit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Admit(ctx, turn.Resolution{Original: "x"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
