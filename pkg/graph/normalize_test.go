package graph

import (
	"testing"

	"github.com/narrativeiq/backend/pkg/common"
)

func TestResolutionKey(t *testing.T) {
	tests := []struct {
		name string
		typ  common.EntityType
		want string
	}{
		{"Dr. Elena Vance", common.EntityCharacter, "elena vance"},
		{"ELENA VANCE", common.EntityCharacter, "elena vance"},
		{"Élena  Vance", common.EntityCharacter, "elena vance"},
		{"Elena's", common.EntityCharacter, "elena"},
		{"Elena’s", common.EntityCharacter, "elena"},
		{"Captain Sir John Carter", common.EntityCharacter, "john carter"},
		{"Doctor", common.EntityCharacter, "doctor"},
		{"The Old Lighthouse", common.EntityLocation, "old lighthouse"},
		{"the lighthouse", common.EntityLocation, "lighthouse"},
		{"The Guild", common.EntityOrganization, "guild"},
		{"The Doctor", common.EntityCharacter, "the doctor"},
		{"O'Brien", common.EntityCharacter, "obrien"},
		{"Mary-Jane Watson", common.EntityCharacter, "mary jane watson"},
		{"Dr. Elena Vance", common.EntityLocation, "dr elena vance"},
	}
	for _, tt := range tests {
		if got := ResolutionKey(tt.name, tt.typ); got != tt.want {
			t.Fatalf("ResolutionKey(%q, %s) = %q, want %q", tt.name, tt.typ, got, tt.want)
		}
	}
}

func TestEntityID_StableAcrossSurfaceForms(t *testing.T) {
	a := EntityID("Dr. Elena Vance", common.EntityCharacter)
	b := EntityID("elena vance", common.EntityCharacter)
	if a != b {
		t.Fatalf("expected equal ids, got %s and %s", a, b)
	}
	if c := EntityID("Elena Vance", common.EntityLocation); c == a {
		t.Fatalf("expected type to be part of the id")
	}
}

func TestSnakeCase(t *testing.T) {
	if got := snakeCase("Located In"); got != "located_in" {
		t.Fatalf("unexpected snake case %q", got)
	}
	if got := snakeCase("present_at"); got != "present_at" {
		t.Fatalf("unexpected snake case %q", got)
	}
}
