package accel

import (
	"math"

	"github.com/chazu/amend/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/dhconnelly/rtreego"
)

// R-tree fan-out.
const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
)

// rtreePad grows every rectangle, relative to the mesh extent, because
// rtreego treats touching rectangles as disjoint.
const rtreePad = 1e-9

// rtreeEntry is a triangle stored in the tree.
type rtreeEntry struct {
	tri  int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *rtreeEntry) Bounds() rtreego.Rect {
	return e.rect
}

// RTree answers queries with an R-tree over triangle bounding boxes. The
// tree's nearest-box search gives an upper bound on the distance, and a
// box search of that radius gathers every triangle that can beat it.
type RTree struct {
	m    *mesh.Buffer
	tol  tolerance
	tree *rtreego.Rtree
	pad  float64
}

// NewRTree bulk loads an R-tree over the triangles of m.
func NewRTree(m *mesh.Buffer) *RTree {
	r := &RTree{m: m, tol: newTolerance(m)}
	n := m.TriangleCount()
	if n == 0 {
		return r
	}
	r.pad = rtreePad * (1 + m.Bounds().Size().MaxComponent())

	objs := make([]rtreego.Spatial, n)
	for t := 0; t < n; t++ {
		tri := m.Triangle(t)
		bb := tri.BoundingBox()
		objs[t] = &rtreeEntry{tri: t, rect: r.rect(bb.Min, bb.Max, r.pad)}
	}
	r.tree = rtreego.NewTree(m.Dim, rtreeMinChildren, rtreeMaxChildren, objs...)
	return r
}

// point converts v to an rtreego point of the mesh's dimension.
func (r *RTree) point(v v3.Vec) rtreego.Point {
	if r.m.Dim == 2 {
		return rtreego.Point{v.X, v.Y}
	}
	return rtreego.Point{v.X, v.Y, v.Z}
}

func (r *RTree) rect(lo, hi v3.Vec, pad float64) rtreego.Rect {
	// Both points have the mesh's dimension, so this cannot fail.
	rect, _ := rtreego.NewRectFromPoints(r.point(lo.SubScalar(pad)), r.point(hi.AddScalar(pad)))
	return rect
}

// Nearest implements Index.
func (r *RTree) Nearest(p v3.Vec) Hit {
	p = queryPoint(r.m, p)
	if !finite(p) || r.tree == nil {
		return Miss()
	}

	seed, ok := r.tree.NearestNeighbor(r.point(p)).(*rtreeEntry)
	if !ok {
		return Miss()
	}
	n := newNearest(r.tol)
	n.offer(project(r.m, seed.tri, p))

	radius := math.Sqrt(n.pruneBound())
	search := r.rect(p, p, radius+r.pad)

	// The filter evaluates candidates in place and refuses them all, so the
	// search never materializes a result slice.
	r.tree.SearchIntersect(search, func(_ []rtreego.Spatial, obj rtreego.Spatial) (bool, bool) {
		e := obj.(*rtreeEntry)
		if e.tri == seed.tri {
			return true, false
		}
		tri := r.m.Triangle(e.tri)
		bb := tri.BoundingBox()
		if boxDist2(bb, p) > n.pruneBound() {
			return true, false
		}
		n.offer(project(r.m, e.tri, p))
		return true, false
	})
	return n.best()
}

// Mesh implements Index.
func (r *RTree) Mesh() *mesh.Buffer { return r.m }

// Backend implements Index.
func (r *RTree) Backend() Backend { return BackendRTree }

// Size returns the number of triangles in the tree.
func (r *RTree) Size() int {
	if r.tree == nil {
		return 0
	}
	return r.tree.Size()
}
