package ner

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/narrativeiq/backend/pkg/common"
)

func TestTypeForLabel(t *testing.T) {
	tests := []struct {
		label string
		want  common.EntityType
		ok    bool
	}{
		{"PERSON", common.EntityCharacter, true},
		{"gpe", common.EntityLocation, true},
		{"FAC", common.EntityLocation, true},
		{"ORG", common.EntityOrganization, true},
		{"MONEY", "", false},
	}
	for _, tt := range tests {
		got, ok := TypeForLabel(tt.label)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("TypeForLabel(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCandidates_RepeatedMentionsGetDistinctOffsets(t *testing.T) {
	text := "Alice met Bob. Later Alice left Paris."
	spans := []labeledSpan{
		{text: "Alice", label: "PERSON"},
		{text: "Bob", label: "PERSON"},
		{text: "Alice", label: "PERSON"},
		{text: "Paris", label: "GPE"},
		{text: "Tuesday", label: "DATE"},
	}

	got := slices.Collect(candidates(text, spans))
	if len(got) != 4 {
		t.Fatalf("expected 4 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Start != 0 || got[2].Start != 21 {
		t.Fatalf("unexpected offsets for Alice: %d and %d", got[0].Start, got[2].Start)
	}
	for _, c := range got {
		if text[c.Start:c.End] != c.Text {
			t.Fatalf("offsets [%d,%d) do not cover %q", c.Start, c.End, c.Text)
		}
	}
	if got[3].Type != common.EntityLocation {
		t.Fatalf("expected Paris to be a location, got %q", got[3].Type)
	}
}

func TestCandidates_StopsWhenYieldReturnsFalse(t *testing.T) {
	text := "Alice and Bob and Carol"
	spans := []labeledSpan{
		{text: "Alice", label: "PERSON"},
		{text: "Bob", label: "PERSON"},
		{text: "Carol", label: "PERSON"},
	}
	n := 0
	for range candidates(text, spans) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected iteration to stop after 2, got %d", n)
	}
}

func TestProseExtractor_InvalidUTF8(t *testing.T) {
	_, err := NewProseExtractor().Extract(context.Background(), string([]byte{'a', 0xff, 'b'}))
	var failure *ExtractionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ExtractionFailure, got %v", err)
	}
}

func TestProseExtractor_OffsetsCoverText(t *testing.T) {
	text := "Sherlock Holmes lived in London with John Watson."
	seq, err := NewProseExtractor().Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for c := range seq {
		if text[c.Start:c.End] != c.Text {
			t.Fatalf("offsets [%d,%d) do not cover %q", c.Start, c.End, c.Text)
		}
		if !c.Type.Valid() {
			t.Fatalf("unexpected type %q", c.Type)
		}
	}
}

func TestDetectThemes(t *testing.T) {
	text := "They were friends, loyal friends who would trust each other. " +
		"But the war came and the battle tore them apart."
	got := DetectThemes(text)
	if !slices.Contains(got, "Friendship") || !slices.Contains(got, "Conflict") {
		t.Fatalf("expected Friendship and Conflict, got %v", got)
	}
	if slices.Contains(got, "Love") {
		t.Fatalf("did not expect Love, got %v", got)
	}
	if got[0] != "Friendship" {
		t.Fatalf("expected Friendship to score highest, got %v", got)
	}
}

func TestDetectThemes_CountsSubstrings(t *testing.T) {
	// "friend" and "friendship" both match inside "friendship"
	got := DetectThemes("Their friendship lasted a lifetime.")
	if !slices.Equal(got, []string{"Friendship"}) {
		t.Fatalf("expected [Friendship], got %v", got)
	}
}

func TestDetectThemes_TiesKeepListOrder(t *testing.T) {
	got := DetectThemes("A war between friends. A friend at war.")
	if !slices.Equal(got, []string{"Friendship", "Conflict"}) {
		t.Fatalf("expected [Friendship Conflict], got %v", got)
	}
}

func TestDetectThemes_Empty(t *testing.T) {
	if got := DetectThemes(""); len(got) != 0 {
		t.Fatalf("expected no themes, got %v", got)
	}
}
