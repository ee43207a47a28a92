package graph

import (
	"slices"
	"testing"

	"github.com/narrativeiq/backend/pkg/common"

	"github.com/stretchr/testify/require"
)

func cand(text string, t common.EntityType) common.Candidate {
	return common.Candidate{Text: text, Type: t}
}

func entityByName(t *testing.T, res Resolution, name string) common.Entity {
	t.Helper()
	for _, e := range res.Entities {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no entity named %q in %+v", name, res.Entities)
	return common.Entity{}
}

func TestResolve_MergesHonorificAndFirstNameViaAlias(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "Dr. Elena Vance", Type: common.EntityCharacter, Aliases: []string{"Elena"}, Mentions: 1},
	}}
	candidates := []common.Candidate{
		cand("Dr. Elena Vance", common.EntityCharacter),
		cand("Elena", common.EntityCharacter),
		cand("Elena", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	require.Equal(t, "Dr. Elena Vance", e.Name)
	require.Equal(t, common.EntityCharacter, e.Type)
	require.Equal(t, []string{"Dr. Elena Vance", "Elena"}, e.Aliases)
	require.Equal(t, common.ProvenanceBoth, e.Source)
	require.Equal(t, 4, e.Mentions)
}

func TestResolve_MergesFirstNameWithoutAlias(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "Dr. Elena Vance", Type: common.EntityCharacter},
	}}
	candidates := []common.Candidate{
		cand("Elena", common.EntityCharacter),
		cand("Elena", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	require.Len(t, res.Entities, 1)
	require.Contains(t, res.Entities[0].Aliases, "Elena")
}

func TestResolve_DistinctFullNamesNeverMerge(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "John Carter", Type: common.EntityCharacter},
		{Name: "John Smith", Type: common.EntityCharacter},
	}}
	candidates := []common.Candidate{
		cand("John", common.EntityCharacter),
		cand("John", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	carter := entityByName(t, res, "John Carter")
	smith := entityByName(t, res, "John Smith")
	require.NotEqual(t, carter.ID, smith.ID)
	require.NotContains(t, carter.Aliases, "John")
	require.NotContains(t, smith.Aliases, "John")
	require.NotContains(t, carter.Aliases, "John Smith")
}

func TestResolve_MisreportedAliasDoesNotMergeFullNames(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "John Carter", Type: common.EntityCharacter, Aliases: []string{"John Smith"}},
		{Name: "John Smith", Type: common.EntityCharacter},
	}}

	res := Resolve(ext, nil, ResolveOptions{})

	require.Len(t, res.Entities, 2)
	require.NotEqual(t, res.Entities[0].ID, res.Entities[1].ID)
}

func TestResolve_IDsAreStable(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "Alice", Type: common.EntityCharacter},
		{Name: "Bob", Type: common.EntityCharacter},
		{Name: "The Old Lighthouse", Type: common.EntityLocation},
	}}
	reversed := extraction{Entities: slices.Clone(ext.Entities)}
	slices.Reverse(reversed.Entities)

	ids := func(res Resolution) []string {
		out := make([]string, 0, len(res.Entities))
		for _, e := range res.Entities {
			out = append(out, e.ID)
		}
		slices.Sort(out)
		return out
	}

	first := ids(Resolve(ext, nil, ResolveOptions{}))
	second := ids(Resolve(ext, nil, ResolveOptions{}))
	third := ids(Resolve(reversed, nil, ResolveOptions{}))

	require.Equal(t, first, second)
	require.Equal(t, first, third)
	require.Contains(t, first, EntityID("old lighthouse", common.EntityLocation))
}

func TestResolve_LocalOnlyEntitiesNeedMinMentions(t *testing.T) {
	candidates := []common.Candidate{
		cand("Paris", common.EntityLocation),
		cand("Rome", common.EntityLocation),
		cand("Rome", common.EntityLocation),
	}

	res := Resolve(extraction{}, candidates, ResolveOptions{})

	require.Len(t, res.Entities, 1)
	require.Equal(t, "Rome", res.Entities[0].Name)
	require.Equal(t, common.ProvenanceLocal, res.Entities[0].Source)
	require.Equal(t, 1, res.DroppedEntities)

	res = Resolve(extraction{}, candidates, ResolveOptions{MinMentions: 1})
	require.Len(t, res.Entities, 2)
}

func TestResolve_LLMTypeWinsLocalTypeFillsGaps(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "Avalon", Type: common.EntityOrganization},
		{Name: "Mara"},
		{Name: "Nowhere Man"},
	}}
	candidates := []common.Candidate{
		cand("Avalon", common.EntityLocation),
		cand("Mara", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	require.Equal(t, common.EntityOrganization, entityByName(t, res, "Avalon").Type)
	require.Equal(t, common.EntityCharacter, entityByName(t, res, "Mara").Type)
	require.Equal(t, 1, res.DroppedEntities)
}

func TestResolve_RelationshipEndpoints(t *testing.T) {
	ext := extraction{
		Entities: []rawEntity{
			{Name: "John Carter", Type: common.EntityCharacter, Aliases: []string{"John"}},
			{Name: "John Smith", Type: common.EntityCharacter, Aliases: []string{"John"}},
			{Name: "Mara", Type: common.EntityCharacter},
			{Name: "The Harbor", Type: common.EntityLocation},
		},
		Relationships: []rawRelationship{
			{Source: "John", Target: "Mara", Type: "ally", Weight: 1},
			{Source: "Mara", Target: "Zed", Type: "ally", Weight: 1},
			{Source: "Mara", Target: "Mara", Type: "reflects_on", Weight: 1},
			{Source: "Mr. John Carter", Target: "harbor", Type: "located_in", Label: "lives at", Weight: 0.5},
		},
	}

	res := Resolve(ext, nil, ResolveOptions{})

	require.Equal(t, 3, res.DroppedRelationships)
	require.Len(t, res.Relationships, 1)
	rel := res.Relationships[0]
	require.Equal(t, entityByName(t, res, "John Carter").ID, rel.SourceID)
	require.Equal(t, entityByName(t, res, "The Harbor").ID, rel.TargetID)

	res = Resolve(ext, nil, ResolveOptions{AllowSelfLoops: true})
	require.Equal(t, 2, res.DroppedRelationships)
}

func TestResolve_DescribedFirstNameStaysSeparate(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "John", Type: common.EntityCharacter, Description: "the baker's son"},
		{Name: "John Carter", Type: common.EntityCharacter, Description: "the captain"},
	}}
	candidates := []common.Candidate{
		cand("John", common.EntityCharacter),
		cand("John", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	require.Len(t, res.Entities, 2)
	john := entityByName(t, res, "John")
	carter := entityByName(t, res, "John Carter")
	require.Equal(t, "the baker's son", john.Description)
	require.Equal(t, "the captain", carter.Description)
	require.Equal(t, []string{"John Carter"}, carter.Aliases)
	require.Equal(t, common.ProvenanceBoth, john.Source)
}

func TestResolve_UntypedLLMEntityTakesLocalType(t *testing.T) {
	ext := extraction{Entities: []rawEntity{
		{Name: "Dr. Elena Vance", Mentions: 1},
	}}
	candidates := []common.Candidate{
		cand("Elena Vance", common.EntityCharacter),
		cand("Elena Vance", common.EntityCharacter),
	}

	res := Resolve(ext, candidates, ResolveOptions{})

	require.Zero(t, res.DroppedEntities)
	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	require.Equal(t, "Dr. Elena Vance", e.Name)
	require.Equal(t, common.EntityCharacter, e.Type)
	require.Equal(t, common.ProvenanceBoth, e.Source)
	require.Equal(t, 3, e.Mentions)
	require.Equal(t, []string{"Dr. Elena Vance", "Elena Vance"}, e.Aliases)
	require.Equal(t, EntityID("Elena Vance", common.EntityCharacter), e.ID)
}

func TestResolve_RelationshipEndpointByPartialName(t *testing.T) {
	ext := extraction{
		Entities: []rawEntity{
			{Name: "Dr. Elena Vance", Type: common.EntityCharacter},
			{Name: "The Lighthouse", Type: common.EntityLocation},
		},
		Relationships: []rawRelationship{
			{Source: "Dr. Vance", Target: "lighthouse", Type: "present_at", Weight: 1},
			{Source: "Vance", Target: "The Lighthouse", Type: "lives_at", Weight: 1},
		},
	}

	res := Resolve(ext, nil, ResolveOptions{})

	require.Zero(t, res.DroppedRelationships)
	require.Len(t, res.Relationships, 2)
	vance := entityByName(t, res, "Dr. Elena Vance")
	for _, rel := range res.Relationships {
		require.Equal(t, vance.ID, rel.SourceID)
	}

	ext.Entities = append(ext.Entities, rawEntity{Name: "Marcus Vance", Type: common.EntityCharacter})
	res = Resolve(ext, nil, ResolveOptions{})
	require.Equal(t, 2, res.DroppedRelationships)
}

func TestSanitizeExtraction(t *testing.T) {
	ext, err := sanitizeExtraction(extractResponse{
		Entities: []extractEntity{
			{Name: "  Alice  ", Type: "Person", Aliases: []string{" Ally ", ""}},
			{Name: "", Type: "character"},
			{Name: "Dawn", Type: "Date", Mentions: 3},
			{Name: "Blob", Type: "spaceship"},
		},
		Relationships: []extractRelationship{
			{Source: "Alice", Target: "Dawn", Type: "Present At", Weight: 0},
			{Source: "Alice", Target: "", Type: "ally"},
			{Source: "Alice", Target: "Blob", Type: "", Weight: -3},
		},
		Summary: " A story. ",
		Themes:  []string{"a", "b", " ", "c", "d", "e", "f", "g"},
	})
	require.NoError(t, err)

	require.Len(t, ext.Entities, 3)
	require.Equal(t, "Alice", ext.Entities[0].Name)
	require.Equal(t, common.EntityCharacter, ext.Entities[0].Type)
	require.Equal(t, []string{"Ally"}, ext.Entities[0].Aliases)
	require.Equal(t, 1, ext.Entities[0].Mentions)
	require.Equal(t, common.EntityTimeReference, ext.Entities[1].Type)
	require.Empty(t, ext.Entities[2].Type)

	require.Len(t, ext.Relationships, 2)
	require.Equal(t, "present_at", ext.Relationships[0].Type)
	require.Equal(t, "present at", ext.Relationships[0].Label)
	require.Equal(t, 1.0, ext.Relationships[0].Weight)
	require.Equal(t, defaultRelType, ext.Relationships[1].Type)
	require.Equal(t, 0.0, ext.Relationships[1].Weight)

	require.Equal(t, "A story.", ext.Summary)
	require.Len(t, ext.Themes, maxThemes)
}

func TestSanitizeExtraction_NothingValid(t *testing.T) {
	_, err := sanitizeExtraction(extractResponse{
		Entities: []extractEntity{{Name: "   ", Type: "character"}},
	})
	require.Error(t, err)

	ext, err := sanitizeExtraction(extractResponse{})
	require.NoError(t, err)
	require.Empty(t, ext.Entities)
}
