package memory

import (
	"strings"
	"testing"
	"time"
)

func TestParseDetailLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"summary", DetailSummary},
		{"standard", DetailStandard},
		{"full", DetailFull},
		{"", DetailStandard},
		{"invalid", DetailStandard},
		{"SUMMARY", DetailStandard},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseDetailLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseDetailLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNavigationHint(t *testing.T) {
	tests := []struct {
		name    string
		showing int
		total   int
		hint    string
		want    string
	}{
		{"all results fit", 10, 10, "hint", ""},
		{"total is zero", 0, 0, "hint", ""},
		{"capped with hint", 10, 47, "Use mem_get for full content.", "\nShowing 10 of 47. Use mem_get for full content."},
		{"capped without hint", 5, 20, "", "\nShowing 5 of 20."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NavigationHint(tt.showing, tt.total, tt.hint)
			if got != tt.want {
				t.Errorf("NavigationHint(%d, %d, %q) = %q, want %q",
					tt.showing, tt.total, tt.hint, got, tt.want)
			}
		})
	}
}

func TestFormatDocument_Levels(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(-time.Hour)
	d := Document{
		ID:           "doc-1",
		Topic:        "laptops/msi-gf63",
		Keywords:     []string{"msi", "gf63"},
		Content:      strings.Repeat("x", 500),
		ContentTypes: []ContentType{ContentEvidence},
		Scope:        ScopeUser,
		Quality:      0.8,
		CreatedAt:    now.Add(-3 * time.Hour),
		ExpiresAt:    &exp,
	}

	summary := FormatDocument(d, DetailSummary, now)
	if strings.Contains(summary, "xxx") {
		t.Error("summary should not include content")
	}
	if !strings.Contains(summary, "3 hours ago") {
		t.Errorf("summary should carry humanized age, got %q", summary)
	}
	if !strings.Contains(summary, "expired") {
		t.Errorf("summary should flag expiry, got %q", summary)
	}

	standard := FormatDocument(d, DetailStandard, now)
	if !strings.HasSuffix(standard, "...") {
		t.Error("standard should truncate long content")
	}

	full := FormatDocument(d, DetailFull, now)
	if !strings.Contains(full, strings.Repeat("x", 500)) {
		t.Error("full should include complete content")
	}
	if !strings.Contains(full, "keywords: msi, gf63") {
		t.Error("full should include keywords")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcdefgh", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTokenFooter(t *testing.T) {
	if got := TokenFooter(12345); got != "\n~12,345 tokens" {
		t.Errorf("TokenFooter = %q", got)
	}
}
