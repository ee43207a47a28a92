package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/narrativeiq/backend/pkg/common"

	"github.com/stretchr/testify/require"
)

func chainGraph(t *testing.T, n int) *common.Graph {
	t.Helper()
	res := Resolution{}
	for i := range n {
		res.Entities = append(res.Entities, ent(fmt.Sprintf("Node %d", i), common.EntityCharacter))
	}
	for i := 1; i < n; i++ {
		res.Relationships = append(res.Relationships, rel(res.Entities[i-1], res.Entities[i], "ally", 1))
	}
	g, err := Build(res, BuildOptions{})
	require.NoError(t, err)
	return g
}

func TestLayout_Deterministic(t *testing.T) {
	g := chainGraph(t, 8)
	seed := uint64(42)

	a := Layout(g, LayoutOptions{Seed: &seed})
	b := Layout(g, LayoutOptions{Seed: &seed})

	require.Len(t, a.Positions, 8)
	require.Equal(t, a.Positions, b.Positions)
	require.Equal(t, seed, a.Seed)
}

func TestLayout_DefaultSeedFromContent(t *testing.T) {
	g := chainGraph(t, 5)

	a := Layout(g, LayoutOptions{})
	seed := DefaultSeed(g)
	b := Layout(g, LayoutOptions{Seed: &seed})

	require.Equal(t, seed, a.Seed)
	require.Equal(t, a.Positions, b.Positions)
}

func TestLayout_DegenerateGraphs(t *testing.T) {
	empty := Layout(&common.Graph{}, LayoutOptions{})
	require.Empty(t, empty.Positions)

	single := chainGraph(t, 1)
	pg := Layout(single, LayoutOptions{})
	require.Equal(t, map[string]common.Position{single.Entities[0].ID: {}}, pg.Positions)
}

func TestLayout_ComponentsDoNotOverlap(t *testing.T) {
	res := Resolution{}
	var groups [][]common.Entity
	for c := range 3 {
		var members []common.Entity
		for i := range 3 {
			e := ent(fmt.Sprintf("C%d N%d", c, i), common.EntityCharacter)
			members = append(members, e)
			res.Entities = append(res.Entities, e)
		}
		res.Relationships = append(res.Relationships,
			rel(members[0], members[1], "ally", 1),
			rel(members[1], members[2], "ally", 1),
		)
		groups = append(groups, members)
	}
	lone := ent("Lone", common.EntityLocation)
	res.Entities = append(res.Entities, lone)
	groups = append(groups, []common.Entity{lone})

	g, err := Build(res, BuildOptions{})
	require.NoError(t, err)
	pg := Layout(g, LayoutOptions{})

	type box struct{ minX, minY, maxX, maxY float64 }
	boxes := make([]box, len(groups))
	for i, members := range groups {
		b := box{minX: 1e18, minY: 1e18, maxX: -1e18, maxY: -1e18}
		for _, e := range members {
			p, ok := pg.Positions[e.ID]
			require.True(t, ok)
			b.minX, b.maxX = min(b.minX, p.X), max(b.maxX, p.X)
			b.minY, b.maxY = min(b.minY, p.Y), max(b.maxY, p.Y)
		}
		boxes[i] = b
	}

	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			a, b := boxes[i], boxes[j]
			overlap := a.minX <= b.maxX && b.minX <= a.maxX && a.minY <= b.maxY && b.minY <= a.maxY
			require.False(t, overlap, "components %d and %d overlap: %+v %+v", i, j, a, b)
		}
	}
}

func TestLayout_ConnectedNodesCloserThanStrangers(t *testing.T) {
	g := chainGraph(t, 6)
	pg := Layout(g, LayoutOptions{})

	dist := func(a, b string) float64 {
		pa, pb := pg.Positions[a], pg.Positions[b]
		dx, dy := pa.X-pb.X, pa.Y-pb.Y
		return dx*dx + dy*dy
	}
	first, second, last := g.Entities[0].ID, g.Entities[1].ID, g.Entities[5].ID
	require.Less(t, dist(first, second), dist(first, last))
}

func TestLayoutEngine_WaitsForSlot(t *testing.T) {
	engine := NewLayoutEngine(1)
	require.NoError(t, engine.sem.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := engine.Layout(ctx, chainGraph(t, 3), LayoutOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	engine.sem.Release(1)
	pg, err := engine.Layout(context.Background(), chainGraph(t, 3), LayoutOptions{})
	require.NoError(t, err)
	require.Len(t, pg.Positions, 3)
}
