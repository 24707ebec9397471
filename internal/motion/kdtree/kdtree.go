// Package kdtree is a fixed-dimension k-d tree over pose feature points.
//
// The tree only preserves locality: distances are unweighted squared
// Euclidean, and callers rank the returned candidates with their own cost.
// A built tree is immutable and safe for concurrent queries.
package kdtree

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Dim is the number of coordinates per point.
const Dim = 16

// NoChild marks a missing child link.
const NoChild = -1

// Point is a feature vector tagged with the pose it came from.
type Point struct {
	Coords [Dim]float64
	Index  int // pose index in the owning database
}

// Node is one entry of the node arena. Point indexes Tree.Points; Left and
// Right index the arena or are NoChild.
type Node struct {
	Point      int
	SplitDim   int
	SplitValue float64
	Left       int
	Right      int
}

// Neighbor is a query result.
type Neighbor struct {
	Index  int // Point.Index
	DistSq float64
}

// Tree is a k-d tree stored as a point array and a node arena.
type Tree struct {
	points []Point
	nodes  []Node
	root   int
}

// Build constructs a tree over points. Each node splits on the dimension with
// the largest variance among its points, at the median. An empty input yields
// an unbuilt tree.
func Build(points []Point) *Tree {
	t := &Tree{root: NoChild}
	if len(points) == 0 {
		return t
	}
	t.points = append([]Point(nil), points...)
	t.nodes = make([]Node, 0, len(points))

	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	col := make([]float64, len(points))
	variances := make([]float64, Dim)
	t.root = t.build(idx, col, variances)
	return t
}

func (t *Tree) build(idx []int, col, variances []float64) int {
	if len(idx) == 0 {
		return NoChild
	}

	dim := 0
	if len(idx) > 1 {
		col = col[:len(idx)]
		for d := 0; d < Dim; d++ {
			for i, p := range idx {
				col[i] = t.points[p].Coords[d]
			}
			variances[d] = stat.PopVariance(col, nil)
		}
		dim = floats.MaxIdx(variances)
	}

	sort.Slice(idx, func(a, b int) bool {
		return t.points[idx[a]].Coords[dim] < t.points[idx[b]].Coords[dim]
	})
	mid := len(idx) / 2

	self := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		Point:      idx[mid],
		SplitDim:   dim,
		SplitValue: t.points[idx[mid]].Coords[dim],
		Left:       NoChild,
		Right:      NoChild,
	})
	left := t.build(idx[:mid], col, variances)
	right := t.build(idx[mid+1:], col, variances)
	t.nodes[self].Left = left
	t.nodes[self].Right = right
	return self
}

// FromNodes restores a tree from exported arrays, validating every link.
func FromNodes(points []Point, nodes []Node, root int) (*Tree, error) {
	if len(nodes) == 0 {
		if root != NoChild {
			return nil, fmt.Errorf("root %d set on an empty node arena", root)
		}
		return &Tree{root: NoChild}, nil
	}
	if root < 0 || root >= len(nodes) {
		return nil, fmt.Errorf("root %d out of range [0,%d)", root, len(nodes))
	}
	for i, n := range nodes {
		if n.Point < 0 || n.Point >= len(points) {
			return nil, fmt.Errorf("node %d: point %d out of range", i, n.Point)
		}
		if n.SplitDim < 0 || n.SplitDim >= Dim {
			return nil, fmt.Errorf("node %d: split dimension %d out of range", i, n.SplitDim)
		}
		for _, c := range []int{n.Left, n.Right} {
			if c != NoChild && (c < 0 || c >= len(nodes)) {
				return nil, fmt.Errorf("node %d: child %d out of range", i, c)
			}
		}
	}
	return &Tree{
		points: append([]Point(nil), points...),
		nodes:  append([]Node(nil), nodes...),
		root:   root,
	}, nil
}

// Built reports whether the tree holds any points.
func (t *Tree) Built() bool { return t != nil && t.root != NoChild }

// Size returns the number of indexed points.
func (t *Tree) Size() int {
	if t == nil {
		return 0
	}
	return len(t.points)
}

// Root returns the root node index, or NoChild.
func (t *Tree) Root() int { return t.root }

// Points returns a copy of the point array.
func (t *Tree) Points() []Point { return append([]Point(nil), t.points...) }

// Nodes returns a copy of the node arena.
func (t *Tree) Nodes() []Node { return append([]Node(nil), t.nodes...) }

// DistSq is the squared Euclidean distance between a and b.
func DistSq(a, b *[Dim]float64) float64 {
	sum := 0.0
	for i := 0; i < Dim; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// FindKNearest returns the k points closest to q in ascending distance. The
// result has min(k, Size()) entries.
func (t *Tree) FindKNearest(q [Dim]float64, k int) []Neighbor {
	if !t.Built() || k <= 0 {
		return nil
	}
	best := make([]Neighbor, 0, min(k, len(t.points)))
	t.nearest(t.root, &q, k, &best)
	return best
}

func (t *Tree) nearest(ni int, q *[Dim]float64, k int, best *[]Neighbor) {
	if ni == NoChild {
		return
	}
	n := &t.nodes[ni]
	p := &t.points[n.Point]
	insertBounded(best, Neighbor{Index: p.Index, DistSq: DistSq(q, &p.Coords)}, k)

	diff := q[n.SplitDim] - n.SplitValue
	near, far := n.Left, n.Right
	if diff >= 0 {
		near, far = n.Right, n.Left
	}
	t.nearest(near, q, k, best)
	// The far side can only help if the splitting plane is closer than the
	// current k-th best.
	if len(*best) < k || diff*diff < (*best)[len(*best)-1].DistSq {
		t.nearest(far, q, k, best)
	}
}

// insertBounded keeps best sorted ascending and at most k long.
func insertBounded(best *[]Neighbor, nb Neighbor, k int) {
	b := *best
	if len(b) == k {
		if nb.DistSq >= b[k-1].DistSq {
			return
		}
		b = b[:k-1]
	}
	i := sort.Search(len(b), func(i int) bool { return b[i].DistSq > nb.DistSq })
	b = append(b, Neighbor{})
	copy(b[i+1:], b[i:])
	b[i] = nb
	*best = b
}

// FindWithinRadius returns every point whose squared distance to q is at
// most radius², in ascending distance.
func (t *Tree) FindWithinRadius(q [Dim]float64, radius float64) []Neighbor {
	if !t.Built() || radius < 0 {
		return nil
	}
	var out []Neighbor
	t.within(t.root, &q, radius*radius, &out)
	sort.Slice(out, func(a, b int) bool { return out[a].DistSq < out[b].DistSq })
	return out
}

func (t *Tree) within(ni int, q *[Dim]float64, r2 float64, out *[]Neighbor) {
	if ni == NoChild {
		return
	}
	n := &t.nodes[ni]
	p := &t.points[n.Point]
	if d := DistSq(q, &p.Coords); d <= r2 {
		*out = append(*out, Neighbor{Index: p.Index, DistSq: d})
	}

	diff := q[n.SplitDim] - n.SplitValue
	near, far := n.Left, n.Right
	if diff >= 0 {
		near, far = n.Right, n.Left
	}
	t.within(near, q, r2, out)
	if diff*diff <= r2 {
		t.within(far, q, r2, out)
	}
}
