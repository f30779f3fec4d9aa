package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"unicode/utf8"
)

func TestScopeTransitions(t *testing.T) {
	if Promote(ScopeNew) != ScopeUser || Promote(ScopeUser) != ScopeGlobal || Promote(ScopeGlobal) != ScopeGlobal {
		t.Error("Promote must climb one level and stop at global")
	}
	if Demote(ScopeGlobal) != ScopeUser || Demote(ScopeUser) != ScopeNew || Demote(ScopeNew) != ScopeNew {
		t.Error("Demote must drop one level and stop at new")
	}

	tests := []struct {
		from, to Scope
		ok       bool
	}{
		{ScopeNew, ScopeUser, true},
		{ScopeUser, ScopeGlobal, true},
		{ScopeGlobal, ScopeUser, true},
		{ScopeUser, ScopeUser, true},
		{ScopeNew, ScopeGlobal, false},
		{ScopeGlobal, ScopeNew, false},
		{"bogus", ScopeNew, false},
	}
	for _, tt := range tests {
		err := CheckTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("CheckTransition(%q, %q) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestApplyOutcome_NeverSkipsALevel(t *testing.T) {
	doc := Document{Scope: ScopeNew, Owner: "ana", Origin: "ana", Quality: 0.5}
	prev := doc.Scope
	for i := 0; i < 20; i++ {
		doc = ApplyOutcome(doc, true, 1, 1)
		if err := CheckTransition(prev, doc.Scope); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		prev = doc.Scope
	}
	if doc.Scope != ScopeGlobal {
		t.Fatalf("Scope = %q, want global", doc.Scope)
	}
	for i := 0; i < 20; i++ {
		doc = ApplyOutcome(doc, false, 1, 1)
		if err := CheckTransition(prev, doc.Scope); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		prev = doc.Scope
	}
	if doc.Scope != ScopeNew {
		t.Fatalf("Scope = %q, want new", doc.Scope)
	}
	if doc.Quality != 0 {
		t.Errorf("Quality = %f, want clamped to 0", doc.Quality)
	}
}

func TestApplyOutcome_MixedOutcomesResetStreaks(t *testing.T) {
	doc := Document{Scope: ScopeNew, Owner: "ana", Quality: 0.5}
	doc = ApplyOutcome(doc, true, 3, 2)
	doc = ApplyOutcome(doc, true, 3, 2)
	doc = ApplyOutcome(doc, false, 3, 2)
	doc = ApplyOutcome(doc, true, 3, 2)
	if doc.Scope != ScopeNew {
		t.Errorf("Scope = %q, interrupted streak must not promote", doc.Scope)
	}
	if doc.PositiveStreak != 1 || doc.NegativeStreak != 0 {
		t.Errorf("streaks = +%d/-%d", doc.PositiveStreak, doc.NegativeStreak)
	}
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"the of a", ""},
		{`what's the price of MSI GF63 now?`, `"price" OR "msi" OR "gf63"`},
		{`say "hi"`, `"say" OR "hi"`},
	}
	for _, tt := range tests {
		if got := sanitizeFTS(tt.in); got != tt.want {
			t.Errorf("sanitizeFTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTopic(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Laptops / MSI GF63", "laptops/msi-gf63"},
		{"  research//prices_2026 ", "research/prices-2026"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTopic(tt.in); got != tt.want {
			t.Errorf("NormalizeTopic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		// "é" is two bytes; cutting at 2 would split it.
		{"aé", 2, "a..."},
		{"日本語", 4, "日..."},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}

func TestCommit_FailedTxCommitLeavesNothing(t *testing.T) {
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	boom := errors.New("disk full")
	s.hooks.commit = func(tx *sql.Tx) error {
		_ = tx.Rollback()
		return boom
	}

	doc := Document{
		Topic:        "t",
		Content:      "c",
		ContentTypes: []ContentType{ContentEvidence},
		Owner:        "ana",
	}
	if _, err := s.Commit(context.Background(), doc, 0); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("documents = %d, want 0 after failed commit", n)
	}
}
