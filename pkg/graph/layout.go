package graph

import (
	"cmp"
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/narrativeiq/backend/pkg/common"
	"github.com/narrativeiq/backend/pkg/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultLayoutIterations = 300
	defaultNodeDistance     = 100.0
	defaultComponentSpacing = 150.0
	layoutTolerance         = 0.01
	minEdgeWeight           = 0.1
)

// LayoutOptions tunes the force-directed layout.
//
// Seed fixes the random start positions. When nil, a seed derived from the
// node id sequence is used so the same graph always gets the same layout.
type LayoutOptions struct {
	Seed         *uint64
	Iterations   int
	NodeDistance float64
	Spacing      float64
}

// DefaultSeed derives a layout seed from the ordered entity ids of g.
func DefaultSeed(g *common.Graph) uint64 {
	h := fnv.New64a()
	for _, e := range g.Entities {
		h.Write([]byte(e.ID))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

type componentLayout struct {
	index  int
	nodes  []int
	x, y   []float64
	w, h   float64
	rounds int
}

// Layout computes 2D positions for every entity of g. Connected components
// are laid out independently and arranged on a grid so they never overlap.
// The result is bit-identical for the same graph and seed.
func Layout(g *common.Graph, opts LayoutOptions) *common.PositionedGraph {
	seed := DefaultSeed(g)
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultLayoutIterations
	}
	if opts.NodeDistance <= 0 {
		opts.NodeDistance = defaultNodeDistance
	}
	if opts.Spacing <= 0 {
		opts.Spacing = defaultComponentSpacing
	}

	pg := &common.PositionedGraph{
		Graph:     g,
		Positions: make(map[string]common.Position, len(g.Entities)),
		Seed:      seed,
	}
	switch len(g.Entities) {
	case 0:
		return pg
	case 1:
		pg.Positions[g.Entities[0].ID] = common.Position{}
		return pg
	}

	ids := make(map[string]int, len(g.Entities))
	for i, e := range g.Entities {
		ids[e.ID] = i
	}
	adj := make([]map[int]float64, len(g.Entities))
	for _, r := range g.Relationships {
		s, okS := ids[r.SourceID]
		t, okT := ids[r.TargetID]
		if !okS || !okT || s == t {
			continue
		}
		w := max(r.Weight, minEdgeWeight)
		if adj[s] == nil {
			adj[s] = make(map[int]float64)
		}
		if adj[t] == nil {
			adj[t] = make(map[int]float64)
		}
		adj[s][t] += w
		adj[t][s] += w
	}

	comps := components(len(g.Entities), g.Relationships, ids)
	layouts := make([]*componentLayout, len(comps))
	for i, nodes := range comps {
		layouts[i] = &componentLayout{index: i, nodes: nodes}
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, cl := range layouts {
		eg.Go(func() error {
			cl.solve(adj, seed, opts)
			return nil
		})
	}
	_ = eg.Wait()

	slices.SortStableFunc(layouts, func(a, b *componentLayout) int {
		if c := cmp.Compare(len(b.nodes), len(a.nodes)); c != 0 {
			return c
		}
		return cmp.Compare(a.nodes[0], b.nodes[0])
	})

	cell := 0.0
	for _, cl := range layouts {
		cell = max(cell, cl.w, cl.h)
	}
	cell += opts.Spacing
	cols := int(math.Ceil(math.Sqrt(float64(len(layouts)))))

	for i, cl := range layouts {
		col, row := i%cols, i/cols
		offX := float64(col)*cell + (cell-opts.Spacing-cl.w)/2
		offY := float64(row)*cell + (cell-opts.Spacing-cl.h)/2
		for j, n := range cl.nodes {
			p := common.Position{X: cl.x[j] + offX, Y: cl.y[j] + offY}
			pg.Positions[g.Entities[n].ID] = p
			pg.Width = max(pg.Width, p.X)
			pg.Height = max(pg.Height, p.Y)
		}
	}
	return pg
}

// solve runs Fruchterman-Reingold on one component and normalizes the
// result so the bounding box starts at the origin.
func (cl *componentLayout) solve(adj []map[int]float64, seed uint64, opts LayoutOptions) {
	n := len(cl.nodes)
	cl.x = make([]float64, n)
	cl.y = make([]float64, n)
	if n == 1 {
		return
	}

	rng := rand.New(rand.NewPCG(seed, uint64(cl.index)))
	k := opts.NodeDistance
	side := k * math.Sqrt(float64(n))
	for i := range n {
		cl.x[i] = (rng.Float64() - 0.5) * side
		cl.y[i] = (rng.Float64() - 0.5) * side
	}

	local := make(map[int]int, n)
	for i, node := range cl.nodes {
		local[node] = i
	}
	// edge list in a fixed order so float sums do not depend on map iteration
	type edge struct {
		a, b int
		w    float64
	}
	var edges []edge
	for i, node := range cl.nodes {
		neighbours := make([]int, 0, len(adj[node]))
		for m := range adj[node] {
			neighbours = append(neighbours, m)
		}
		slices.Sort(neighbours)
		for _, m := range neighbours {
			if j := local[m]; j > i {
				edges = append(edges, edge{i, j, adj[node][m]})
			}
		}
	}

	dx := make([]float64, n)
	dy := make([]float64, n)
	temp0 := side / 10
	for it := range opts.Iterations {
		clear(dx)
		clear(dy)

		for i := range n {
			for j := i + 1; j < n; j++ {
				vx, vy := cl.x[i]-cl.x[j], cl.y[i]-cl.y[j]
				d := math.Hypot(vx, vy)
				if d < 1e-9 {
					angle := rng.Float64() * 2 * math.Pi
					vx, vy, d = math.Cos(angle)*0.01, math.Sin(angle)*0.01, 0.01
				}
				f := k * k / d
				fx, fy := vx/d*f, vy/d*f
				dx[i] += fx
				dy[i] += fy
				dx[j] -= fx
				dy[j] -= fy
			}
		}

		for _, e := range edges {
			vx, vy := cl.x[e.a]-cl.x[e.b], cl.y[e.a]-cl.y[e.b]
			d := math.Hypot(vx, vy)
			if d < 1e-9 {
				continue
			}
			f := e.w * d * d / k
			fx, fy := vx/d*f, vy/d*f
			dx[e.a] -= fx
			dy[e.a] -= fy
			dx[e.b] += fx
			dy[e.b] += fy
		}

		temp := temp0 * (1 - float64(it)/float64(opts.Iterations))
		moved := 0.0
		for i := range n {
			d := math.Hypot(dx[i], dy[i])
			if d < 1e-12 {
				continue
			}
			step := min(d, temp)
			cl.x[i] += dx[i] / d * step
			cl.y[i] += dy[i] / d * step
			moved = max(moved, step)
		}
		cl.rounds = it + 1
		if moved < layoutTolerance {
			break
		}
	}
	metrics.LayoutIterations.Observe(float64(cl.rounds))

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range n {
		minX, maxX = min(minX, cl.x[i]), max(maxX, cl.x[i])
		minY, maxY = min(minY, cl.y[i]), max(maxY, cl.y[i])
	}
	for i := range n {
		cl.x[i] -= minX
		cl.y[i] -= minY
	}
	cl.w, cl.h = maxX-minX, maxY-minY
}

// LayoutEngine bounds how many layouts run at once. Layout is CPU bound, so
// requests beyond the limit wait instead of competing for cores.
type LayoutEngine struct {
	sem *semaphore.Weighted
}

// NewLayoutEngine creates an engine running at most parallel layouts.
func NewLayoutEngine(parallel int) *LayoutEngine {
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	return &LayoutEngine{sem: semaphore.NewWeighted(int64(parallel))}
}

// Layout waits for a free slot and lays out g.
func (e *LayoutEngine) Layout(ctx context.Context, g *common.Graph, opts LayoutOptions) (*common.PositionedGraph, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)
	return Layout(g, opts), nil
}
