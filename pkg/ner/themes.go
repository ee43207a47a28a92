package ner

import (
	"cmp"
	"slices"
	"strings"
)

type themeKeywords struct {
	theme    string
	keywords []string
}

// themes lists the heuristic themes in tie-break order.
var themes = []themeKeywords{
	{"Friendship", []string{"friend", "friendship", "together", "bond", "companion"}},
	{"Conflict", []string{"fight", "conflict", "battle", "argue", "enemy", "war"}},
	{"Love", []string{"love", "romance", "heart", "affection", "kiss", "beloved"}},
	{"Betrayal", []string{"betray", "backstab", "deceive", "lie", "cheat", "trust"}},
	{"Growth", []string{"grow", "learn", "change", "evolve", "transform", "journey"}},
	{"Loss", []string{"loss", "grief", "death", "mourn", "miss", "gone"}},
	{"Power", []string{"power", "control", "authority", "rule", "dominate", "influence"}},
	{"Redemption", []string{"redeem", "forgive", "second chance", "atone", "guilt"}},
}

const (
	minThemeScore = 2
	maxThemes     = 5
)

// DetectThemes scores themes by keyword occurrences in the lowercased text.
// Keywords match as substrings, so "friend" also counts inside "friendship".
// Themes need a score of at least two; the five strongest are returned,
// strongest first, ties in list order.
func DetectThemes(text string) []string {
	lower := strings.ToLower(text)

	type scored struct {
		theme string
		score int
	}
	var found []scored
	for _, t := range themes {
		score := 0
		for _, kw := range t.keywords {
			score += strings.Count(lower, kw)
		}
		if score >= minThemeScore {
			found = append(found, scored{theme: t.theme, score: score})
		}
	}

	slices.SortStableFunc(found, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	if len(found) > maxThemes {
		found = found[:maxThemes]
	}
	out := make([]string, 0, len(found))
	for _, f := range found {
		out = append(out, f.theme)
	}
	return out
}
