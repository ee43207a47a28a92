package graph

import (
	"math"
	"slices"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/metrics"
)

// BuildOptions tunes graph construction.
type BuildOptions struct {
	AllowSelfLoops bool
	Synopsis       string
	Themes         []string
}

type edgeKey struct {
	source, target, typ string
}

// Build assembles a typed graph from a resolution and computes its summary
// metrics. A graph that breaks a structural rule is rejected with a
// ResolutionInvariantError; Build never repairs its input.
func Build(res Resolution, opts BuildOptions) (*common.Graph, error) {
	ids := make(map[string]int, len(res.Entities))
	for i, e := range res.Entities {
		if e.ID == "" {
			return nil, &ResolutionInvariantError{Rule: "entity_id", Detail: "entity " + e.Name + " has no id"}
		}
		if _, dup := ids[e.ID]; dup {
			return nil, &ResolutionInvariantError{Rule: "unique_id", EntityID: e.ID, Detail: "duplicate entity id"}
		}
		if !e.Type.Valid() {
			return nil, &ResolutionInvariantError{Rule: "entity_type", EntityID: e.ID, Detail: "unknown type " + string(e.Type)}
		}
		ids[e.ID] = i
	}

	edges := make([]common.Relationship, 0, len(res.Relationships))
	at := make(map[edgeKey]int, len(res.Relationships))
	for _, r := range res.Relationships {
		if _, ok := ids[r.SourceID]; !ok {
			return nil, &ResolutionInvariantError{Rule: "dangling_reference", EntityID: r.SourceID, Detail: "relationship source does not exist"}
		}
		if _, ok := ids[r.TargetID]; !ok {
			return nil, &ResolutionInvariantError{Rule: "dangling_reference", EntityID: r.TargetID, Detail: "relationship target does not exist"}
		}
		if r.SourceID == r.TargetID && !opts.AllowSelfLoops {
			return nil, &ResolutionInvariantError{Rule: "self_loop", EntityID: r.SourceID, Detail: "self loops are not allowed"}
		}
		if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) || r.Weight < 0 {
			return nil, &ResolutionInvariantError{Rule: "weight", EntityID: r.SourceID, Detail: "relationship weight must be a finite value >= 0"}
		}

		k := edgeKey{r.SourceID, r.TargetID, r.Type}
		if i, ok := at[k]; ok {
			edges[i].Weight += r.Weight
			continue
		}
		at[k] = len(edges)
		edges = append(edges, r)
	}

	g := &common.Graph{
		Entities:      slices.Clone(res.Entities),
		Relationships: edges,
		Synopsis:      opts.Synopsis,
		Themes:        slices.Clone(opts.Themes),
	}
	if g.Entities == nil {
		g.Entities = []common.Entity{}
	}
	if g.Themes == nil {
		g.Themes = []string{}
	}
	g.Summary = summarize(g, ids)

	metrics.GraphEntities.Observe(float64(len(g.Entities)))
	return g, nil
}

func summarize(g *common.Graph, ids map[string]int) common.Summary {
	n := len(g.Entities)
	s := common.Summary{
		EntityCounts: make(map[common.EntityType]int, len(common.EntityTypes)),
		EntityTotal:  n,
		EdgeCount:    len(g.Relationships),
	}
	for _, t := range common.EntityTypes {
		s.EntityCounts[t] = 0
	}
	for _, e := range g.Entities {
		s.EntityCounts[e.Type]++
	}

	pairs := make(map[[2]string]struct{})
	for _, r := range g.Relationships {
		if r.SourceID != r.TargetID {
			pairs[[2]string{r.SourceID, r.TargetID}] = struct{}{}
		}
	}
	if n > 1 {
		s.Density = roundTo(float64(len(pairs))/float64(n*(n-1)), 4)
	}

	types := 0
	for _, t := range common.EntityTypes {
		if s.EntityCounts[t] > 0 {
			types++
		}
	}
	s.Complexity = complexity(n, len(g.Relationships), types)

	comps := components(n, g.Relationships, ids)
	s.Components = len(comps)
	if s.Components > 0 {
		s.DisconnectedComponents = s.Components - 1
	}
	for _, c := range comps {
		if len(c) == 1 {
			s.IsolatedNodes++
		}
	}
	return s
}

// complexity maps graph size onto a saturating 0..100 score.
func complexity(nodes, edges, types int) float64 {
	if nodes == 0 {
		return 0
	}
	raw := float64(nodes + 2*edges + 3*max(types-1, 0))
	return roundTo(100*(1-math.Exp(-raw/60)), 2)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// components returns the undirected connected components as lists of entity
// indexes. Components are ordered by their lowest index and list members in
// ascending order.
func components(n int, rels []common.Relationship, ids map[string]int) [][]int {
	uf := newUnionFind(n)
	for _, r := range rels {
		uf.union(ids[r.SourceID], ids[r.TargetID])
	}
	byRoot := make(map[int]int)
	var out [][]int
	for i := range n {
		root := uf.find(i)
		c, ok := byRoot[root]
		if !ok {
			c = len(out)
			byRoot[root] = c
			out = append(out, nil)
		}
		out[c] = append(out[c], i)
	}
	return out
}
