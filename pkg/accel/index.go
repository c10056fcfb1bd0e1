// Package accel answers closest-point queries against a triangle mesh.
//
// An Index is built once per mesh version and is read-only afterwards, so
// any number of goroutines may query it at the same time. Every backend
// returns exactly what an exhaustive scan over all triangles returns: the
// closest point over the union of the filled triangles, and among
// triangles at the same distance (within a small relative tolerance) the
// one with the lowest triangle index.
package accel

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/amend/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Hit is the projection of one query point onto a mesh.
type Hit struct {
	Point    v3.Vec     // closest point, Z = 0 for 2D meshes
	Bary     [3]float64 // barycentric coordinates in Triangle
	Triangle int        // triangle index, -1 when nothing was hit
	Dist2    float64    // squared distance from the query to Point
}

// Miss returns the "no hit" sentinel reported for empty meshes and
// non-finite queries.
func Miss() Hit {
	nan := math.NaN()
	return Hit{
		Point:    v3.Vec{X: nan, Y: nan, Z: nan},
		Bary:     [3]float64{nan, nan, nan},
		Triangle: -1,
		Dist2:    math.Inf(1),
	}
}

// OK reports whether the hit refers to a triangle.
func (h Hit) OK() bool {
	return h.Triangle >= 0
}

// Distance returns the euclidean distance from the query to the hit.
func (h Hit) Distance() float64 {
	return math.Sqrt(h.Dist2)
}

// Backend selects the acceleration structure behind an Index.
type Backend int

const (
	BackendBVH    Backend = iota // bounding volume hierarchy, median split
	BackendRTree                 // R-tree over triangle boxes
	BackendLinear                // exhaustive scan
)

func (b Backend) String() string {
	switch b {
	case BackendBVH:
		return "bvh"
	case BackendRTree:
		return "rtree"
	case BackendLinear:
		return "linear"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts a backend name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bvh":
		return BackendBVH, nil
	case "rtree", "r-tree":
		return BackendRTree, nil
	case "linear", "brute", "bruteforce":
		return BackendLinear, nil
	}
	return 0, fmt.Errorf("accel: unknown backend %q, expected bvh, rtree or linear", name)
}

// Index finds the closest point of a mesh to a query point.
type Index interface {
	// Nearest projects p onto the mesh. 2D meshes ignore p.Z.
	Nearest(p v3.Vec) Hit
	// Mesh returns the buffer the index was built from.
	Mesh() *mesh.Buffer
	// Backend reports which structure answers queries.
	Backend() Backend
}

// Compile-time interface checks.
var (
	_ Index = (*BVH)(nil)
	_ Index = (*RTree)(nil)
	_ Index = (*Linear)(nil)
)

// DefaultLeafSize is the number of triangles below which a BVH node
// becomes a leaf.
const DefaultLeafSize = 4

type buildOptions struct {
	backend  Backend
	leafSize int
}

// Option configures Build.
type Option func(*buildOptions)

// WithBackend selects the acceleration structure.
func WithBackend(b Backend) Option {
	return func(o *buildOptions) { o.backend = b }
}

// WithLeafSize sets the BVH leaf size. Values below 1 use DefaultLeafSize.
func WithLeafSize(n int) Option {
	return func(o *buildOptions) { o.leafSize = n }
}

// Build validates m and builds an index over it. The index keeps a
// reference to m; the buffer must not change while the index is in use.
// An empty mesh is valid and yields an index whose queries all Miss.
func Build(m *mesh.Buffer, opts ...Option) (Index, error) {
	if m == nil {
		return nil, fmt.Errorf("accel: build: nil mesh")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("accel: build: %w", err)
	}
	o := buildOptions{backend: BackendBVH, leafSize: DefaultLeafSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.leafSize < 1 {
		o.leafSize = DefaultLeafSize
	}

	switch o.backend {
	case BackendBVH:
		return NewBVH(m, o.leafSize), nil
	case BackendRTree:
		return NewRTree(m), nil
	case BackendLinear:
		return NewLinear(m), nil
	}
	return nil, fmt.Errorf("accel: build: unsupported backend %v", o.backend)
}

// ---------------------------------------------------------------------------
// Candidate selection shared by all backends
// ---------------------------------------------------------------------------

// tieEpsilon scales the squared distance under which two triangles are
// considered equally close. It sits just above rounding noise.
const tieEpsilon = 1e-12

// tieFloorEpsilon times the squared mesh extent is the tie window at
// distance zero, so that points on a shared edge tie without pulling
// points off the edge onto a neighbor.
const tieFloorEpsilon = 1e-24

// boxSlack widens box rejection tests, relative to the bound and the
// squared mesh extent.
const boxSlack = 1e-9

// tolerance is the scale-dependent part of the candidate selection, fixed
// when an index is built.
type tolerance struct {
	floor float64 // tie window at distance zero
	scale float64 // squared mesh extent
}

// newTolerance derives the tolerances from the bounds of m.
func newTolerance(m *mesh.Buffer) tolerance {
	extent := 1.0
	if m.TriangleCount() > 0 {
		if e := m.Bounds().Size().MaxComponent(); e > 0 && !math.IsInf(e, 0) {
			extent = e
		}
	}
	scale := extent * extent
	return tolerance{floor: tieFloorEpsilon * scale, scale: scale}
}

// window returns the squared distance above d2 that still ties with d2.
func (tol tolerance) window(d2 float64) float64 {
	return tieEpsilon*d2 + tol.floor
}

// nearest collects every triangle within tolerance of the best squared
// distance seen so far. The final answer depends only on the set of
// offered triangles, never on the order they were offered in.
type nearest struct {
	tol  tolerance
	min  float64
	hits []Hit
}

func newNearest(tol tolerance) nearest {
	return nearest{tol: tol, min: math.Inf(1)}
}

// bound is the largest squared distance that can still matter.
func (n *nearest) bound() float64 {
	return n.min + n.tol.window(n.min)
}

// pruneBound is bound widened by boxSlack, so that rounding in a computed
// closest point never lets a box distance exceed the distance of a point
// inside it.
func (n *nearest) pruneBound() float64 {
	b := n.bound()
	return b + boxSlack*(b+n.tol.scale)
}

func (n *nearest) offer(h Hit) {
	if h.Dist2 > n.bound() {
		return
	}
	if h.Dist2 < n.min {
		n.min = h.Dist2
		limit := n.bound()
		kept := n.hits[:0]
		for _, c := range n.hits {
			if c.Dist2 <= limit {
				kept = append(kept, c)
			}
		}
		n.hits = kept
	}
	n.hits = append(n.hits, h)
}

// best returns the lowest-index hit among the collected ties.
func (n *nearest) best() Hit {
	if len(n.hits) == 0 {
		return Miss()
	}
	best := n.hits[0]
	for _, h := range n.hits[1:] {
		if h.Triangle < best.Triangle {
			best = h
		}
	}
	return best
}

// project evaluates triangle t of m against p.
func project(m *mesh.Buffer, t int, p v3.Vec) Hit {
	tri := m.Triangle(t)
	q, bary := ClosestPoint(p, tri[0], tri[1], tri[2])
	return Hit{Point: q, Bary: bary, Triangle: t, Dist2: q.Sub(p).Length2()}
}

// queryPoint flattens p into the mesh's dimension.
func queryPoint(m *mesh.Buffer, p v3.Vec) v3.Vec {
	if m.Dim == 2 {
		p.Z = 0
	}
	return p
}

func finite(p v3.Vec) bool {
	for _, x := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
