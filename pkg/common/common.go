package common

// EntityType is the narrative role of an entity.
type EntityType string

const (
	EntityCharacter     EntityType = "character"
	EntityLocation      EntityType = "location"
	EntityOrganization  EntityType = "organization"
	EntityTheme         EntityType = "theme"
	EntityTimeReference EntityType = "time_reference"
)

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{
	EntityCharacter,
	EntityLocation,
	EntityOrganization,
	EntityTheme,
	EntityTimeReference,
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityCharacter, EntityLocation, EntityOrganization, EntityTheme, EntityTimeReference:
		return true
	}
	return false
}

// Provenance records which extraction pass produced an entity.
type Provenance string

const (
	ProvenanceLocal Provenance = "local"
	ProvenanceLLM   Provenance = "llm"
	ProvenanceBoth  Provenance = "both"
)

// Candidate is a raw entity span found by the local extractor.
// Start and End are byte offsets into the source text.
type Candidate struct {
	Text  string     `json:"text"`
	Start int        `json:"start"`
	End   int        `json:"end"`
	Type  EntityType `json:"type"`
}

// Entity is a resolved, deduplicated node of the narrative graph.
type Entity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Aliases     []string   `json:"aliases"`
	Mentions    int        `json:"mentions"`
	Source      Provenance `json:"source"`
	Description string     `json:"description,omitempty"`
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Label    string  `json:"label"`
	Weight   float64 `json:"weight"`
}

// Summary holds the aggregate metrics computed when a graph is built.
type Summary struct {
	EntityCounts           map[EntityType]int `json:"entity_counts"`
	EntityTotal            int                `json:"entity_total"`
	EdgeCount              int                `json:"edge_count"`
	Density                float64            `json:"density"`
	Complexity             float64            `json:"complexity"`
	Components             int                `json:"components"`
	DisconnectedComponents int                `json:"disconnected_components"`
	IsolatedNodes          int                `json:"isolated_nodes"`
}

// Graph is the typed narrative graph of a single request.
// Entities keep resolution order. A Graph is not modified after it is built.
type Graph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Summary       Summary        `json:"summary"`
	Synopsis      string         `json:"synopsis,omitempty"`
	Themes        []string       `json:"themes"`
}

// Position is a 2D layout coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PositionedGraph is a graph together with a layout for every entity.
type PositionedGraph struct {
	Graph     *Graph              `json:"graph"`
	Positions map[string]Position `json:"positions"`
	Seed      uint64              `json:"seed"`
	Width     float64             `json:"width"`
	Height    float64             `json:"height"`
}
