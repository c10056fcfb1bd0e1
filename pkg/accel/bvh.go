package accel

import (
	"sort"

	"github.com/chazu/amend/pkg/mesh"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// bvhNode is one node of the flattened hierarchy. The first child of an
// interior node is stored right after it, the second at right.
type bvhNode struct {
	box   sdf.Box3
	start int // first slot in BVH.order (leaves)
	count int // triangles in the leaf, 0 for interior nodes
	right int // second child (interior nodes)
}

// BVH is a bounding volume hierarchy over triangle boxes, split at the
// median centroid along the longest axis.
type BVH struct {
	m     *mesh.Buffer
	tol   tolerance
	nodes []bvhNode
	order []int // triangle indices, grouped by leaf
}

// NewBVH builds a BVH over m with at most leafSize triangles per leaf.
// The split order is fully determined by the mesh content.
func NewBVH(m *mesh.Buffer, leafSize int) *BVH {
	if leafSize < 1 {
		leafSize = DefaultLeafSize
	}
	n := m.TriangleCount()
	b := &BVH{m: m, tol: newTolerance(m), order: make([]int, n)}
	if n == 0 {
		return b
	}

	boxes := make([]sdf.Box3, n)
	centroids := make([]v3.Vec, n)
	for t := 0; t < n; t++ {
		tri := m.Triangle(t)
		boxes[t] = tri.BoundingBox()
		centroids[t] = tri[0].Add(tri[1]).Add(tri[2]).DivScalar(3)
		b.order[t] = t
	}

	b.nodes = make([]bvhNode, 0, 2*(n/leafSize+1))
	b.build(0, n, boxes, centroids, leafSize)
	return b
}

// build appends the subtree over order[start:end] and returns its node index.
func (b *BVH) build(start, end int, boxes []sdf.Box3, centroids []v3.Vec, leafSize int) int {
	first := b.order[start]
	box := boxes[first]
	cbox := sdf.Box3{Min: centroids[first], Max: centroids[first]}
	for _, t := range b.order[start+1 : end] {
		box = box.Extend(boxes[t])
		cbox = cbox.Include(centroids[t])
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, bvhNode{box: box})
	if end-start <= leafSize {
		b.nodes[idx].start = start
		b.nodes[idx].count = end - start
		return idx
	}

	axis := longestAxis(cbox.Size())
	tris := b.order[start:end]
	sort.Slice(tris, func(i, j int) bool {
		ci := centroids[tris[i]].Get(axis)
		cj := centroids[tris[j]].Get(axis)
		if ci != cj {
			return ci < cj
		}
		return tris[i] < tris[j]
	})

	mid := start + (end-start)/2
	b.build(start, mid, boxes, centroids, leafSize)
	right := b.build(mid, end, boxes, centroids, leafSize)
	b.nodes[idx].right = right
	return idx
}

func longestAxis(size v3.Vec) int {
	axis := 0
	if size.Y > size.X && size.Y >= size.Z {
		axis = 1
	} else if size.Z > size.X && size.Z > size.Y {
		axis = 2
	}
	return axis
}

// boxDist2 is the squared distance from p to the closest point of box.
func boxDist2(box sdf.Box3, p v3.Vec) float64 {
	return p.Clamp(box.Min, box.Max).Sub(p).Length2()
}

type bvhEntry struct {
	node int
	d2   float64
}

// Nearest implements Index. Children are visited nearest box first and
// any subtree whose box is farther than the current best is skipped.
func (b *BVH) Nearest(p v3.Vec) Hit {
	p = queryPoint(b.m, p)
	if !finite(p) || len(b.nodes) == 0 {
		return Miss()
	}

	n := newNearest(b.tol)
	stack := make([]bvhEntry, 1, 64)
	stack[0] = bvhEntry{node: 0, d2: boxDist2(b.nodes[0].box, p)}

	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.d2 > n.pruneBound() {
			continue
		}

		node := &b.nodes[e.node]
		if node.count > 0 {
			for _, t := range b.order[node.start : node.start+node.count] {
				n.offer(project(b.m, t, p))
			}
			continue
		}

		left := bvhEntry{node: e.node + 1, d2: boxDist2(b.nodes[e.node+1].box, p)}
		right := bvhEntry{node: node.right, d2: boxDist2(b.nodes[node.right].box, p)}
		if left.d2 <= right.d2 {
			stack = append(stack, right, left)
		} else {
			stack = append(stack, left, right)
		}
	}
	return n.best()
}

// Mesh implements Index.
func (b *BVH) Mesh() *mesh.Buffer { return b.m }

// Backend implements Index.
func (b *BVH) Backend() Backend { return BackendBVH }

// Depth returns the number of levels in the hierarchy.
func (b *BVH) Depth() int {
	if len(b.nodes) == 0 {
		return 0
	}
	var depth func(i int) int
	depth = func(i int) int {
		node := b.nodes[i]
		if node.count > 0 {
			return 1
		}
		return 1 + max(depth(i+1), depth(node.right))
	}
	return depth(0)
}

// NodeCount returns the number of nodes, leaves included.
func (b *BVH) NodeCount() int {
	return len(b.nodes)
}
