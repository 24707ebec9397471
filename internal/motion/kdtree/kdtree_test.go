package kdtree

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomPoints scales each dimension differently so the split dimension
// actually varies between nodes.
func randomPoints(r *rand.Rand, n int) []Point {
	pts := make([]Point, n)
	for i := range pts {
		for d := 0; d < Dim; d++ {
			pts[i].Coords[d] = r.NormFloat64() * float64(d+1)
		}
		pts[i].Index = 1000 + i
	}
	return pts
}

func randomQuery(r *rand.Rand) [Dim]float64 {
	var q [Dim]float64
	for d := range q {
		q[d] = r.NormFloat64() * float64(d+1)
	}
	return q
}

func bruteForce(pts []Point, q [Dim]float64) []Neighbor {
	out := make([]Neighbor, len(pts))
	for i := range pts {
		out[i] = Neighbor{Index: pts[i].Index, DistSq: DistSq(&q, &pts[i].Coords)}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DistSq < out[b].DistSq })
	return out
}

func distances(ns []Neighbor) []float64 {
	out := make([]float64, len(ns))
	for i, n := range ns {
		out[i] = n.DistSq
	}
	return out
}

func TestFindKNearestMatchesBruteForce(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(7, 11))
	pts := randomPoints(r, 500)
	tree := Build(pts)
	require.True(t, tree.Built())
	require.Equal(t, 500, tree.Size())

	for trial := 0; trial < 50; trial++ {
		q := randomQuery(r)
		for _, k := range []int{1, 5, 32} {
			got := tree.FindKNearest(q, k)
			want := bruteForce(pts, q)[:k]
			require.Len(t, got, k)
			assert.InDeltaSlice(t, distances(want), distances(got), 1e-9)
			assert.True(t, sort.SliceIsSorted(got, func(a, b int) bool { return got[a].DistSq < got[b].DistSq }))
		}
	}
}

func TestFindKNearestLargerThanTree(t *testing.T) {
	t.Parallel()
	pts := randomPoints(rand.New(rand.NewPCG(1, 2)), 7)
	got := Build(pts).FindKNearest([Dim]float64{}, 20)
	assert.Len(t, got, 7)
}

func TestFindKNearestDuplicates(t *testing.T) {
	t.Parallel()
	pts := make([]Point, 10)
	for i := range pts {
		pts[i].Index = i
	}
	got := Build(pts).FindKNearest([Dim]float64{}, 4)
	require.Len(t, got, 4)
	for _, n := range got {
		assert.Zero(t, n.DistSq)
	}
}

func TestFindWithinRadiusIsExact(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(3, 5))
	pts := randomPoints(r, 400)
	tree := Build(pts)

	for trial := 0; trial < 30; trial++ {
		q := randomQuery(r)
		radius := 40 + r.Float64()*20
		var want []int
		for _, n := range bruteForce(pts, q) {
			if n.DistSq <= radius*radius {
				want = append(want, n.Index)
			}
		}
		got := tree.FindWithinRadius(q, radius)
		gotIdx := make([]int, len(got))
		for i, n := range got {
			gotIdx[i] = n.Index
			assert.LessOrEqual(t, n.DistSq, radius*radius)
		}
		assert.ElementsMatch(t, want, gotIdx)
		assert.True(t, sort.SliceIsSorted(got, func(a, b int) bool { return got[a].DistSq < got[b].DistSq }))
	}
}

func TestEmptyTree(t *testing.T) {
	t.Parallel()
	tree := Build(nil)
	assert.False(t, tree.Built())
	assert.Zero(t, tree.Size())
	assert.Empty(t, tree.FindKNearest([Dim]float64{}, 3))
	assert.Empty(t, tree.FindWithinRadius([Dim]float64{}, 100))
}

func TestFromNodesRoundTrip(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewPCG(9, 9))
	pts := randomPoints(r, 64)
	tree := Build(pts)

	restored, err := FromNodes(tree.Points(), tree.Nodes(), tree.Root())
	require.NoError(t, err)
	q := randomQuery(r)
	assert.Equal(t, tree.FindKNearest(q, 8), restored.FindKNearest(q, 8))

	t.Run("rejects dangling child", func(t *testing.T) {
		nodes := tree.Nodes()
		nodes[0].Left = len(nodes)
		_, err := FromNodes(tree.Points(), nodes, tree.Root())
		assert.Error(t, err)
	})

	t.Run("rejects bad root", func(t *testing.T) {
		_, err := FromNodes(tree.Points(), tree.Nodes(), -5)
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		empty, err := FromNodes(nil, nil, NoChild)
		require.NoError(t, err)
		assert.False(t, empty.Built())
	})
}
