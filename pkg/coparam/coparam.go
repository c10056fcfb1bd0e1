// Package coparam maps points on a mesh to and from a surface
// parameterization. A coparam is a (u, v, material) triple; the material
// selects one of six triplanar charts and (u, v) locate the point inside
// it. Converting a coparam back to a position is a point-to-mesh
// projection in parameter space.
//
// The triplanar parameterization is one to one only where no two surfaces
// on the same chart cover the same (u, v). Convex parts satisfy this; on a
// non-convex part, such as the top of a step and the floor beside it, the
// overlapping regions share coparams and ToPosition returns the point on
// the lowest-index triangle among them.
package coparam

import (
	"fmt"
	"math"

	"github.com/chazu/amend/pkg/accel"
	"github.com/chazu/amend/pkg/mesh"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// DefaultMaxProjectionError is the largest parameter-space distance at
// which a coparam still counts as lying on the param mesh.
const DefaultMaxProjectionError = 1e-7

// Material is a triplanar chart, named by the dominant normal direction of
// the triangles it holds.
type Material int

const (
	PosX Material = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

var materialNames = [...]string{"+X", "-X", "+Y", "-Y", "+Z", "-Z"}

func (m Material) String() string {
	if m < PosX || m > NegZ {
		return fmt.Sprintf("Material(%d)", int(m))
	}
	return materialNames[m]
}

// Coparam is a point in parameter space: X and Y hold u and v, Z holds the
// material id.
type Coparam = v3.Vec

// ParamMesh is the parameter-space image of a source mesh. Param triangle t
// corresponds to source triangle t; each param vertex belongs to exactly one
// triangle corner, and CornerVertex maps it back to its source vertex.
type ParamMesh struct {
	Param        *mesh.Buffer
	Source       *mesh.Buffer
	CornerVertex []int
}

// Validate checks that the param mesh matches its source.
func (pm *ParamMesh) Validate() error {
	if pm.Param == nil || pm.Source == nil {
		return fmt.Errorf("coparam: incomplete param mesh")
	}
	if err := pm.Param.Validate(); err != nil {
		return fmt.Errorf("coparam: param: %w", err)
	}
	if err := pm.Source.Validate(); err != nil {
		return fmt.Errorf("coparam: source: %w", err)
	}
	if pm.Param.Dim != 3 {
		return fmt.Errorf("coparam: param dimension %d: %w", pm.Param.Dim, mesh.ErrDimension)
	}
	if pm.Param.TriangleCount() != pm.Source.TriangleCount() {
		return fmt.Errorf("coparam: %d param triangles for %d source triangles: %w",
			pm.Param.TriangleCount(), pm.Source.TriangleCount(), mesh.ErrLength)
	}
	if len(pm.CornerVertex) != pm.Param.VertexCount() {
		return fmt.Errorf("coparam: %d corner vertices for %d param vertices: %w",
			len(pm.CornerVertex), pm.Param.VertexCount(), mesh.ErrLength)
	}
	n := pm.Source.VertexCount()
	for i, v := range pm.CornerVertex {
		if v < 0 || v >= n {
			return fmt.Errorf("coparam: param vertex %d maps to source vertex %d of %d: %w",
				i, v, n, mesh.ErrIndexRange)
		}
	}
	return nil
}

// Triplanar builds the triplanar parameterization of m. Each triangle goes
// to the chart of its dominant normal axis, and its corners are placed at
// the two remaining coordinates normalized by the mesh bounds. Surfaces
// that face the same way and overlap along the chart's axis get the same
// coordinates.
func Triplanar(m *mesh.Buffer) (*ParamMesh, error) {
	if m == nil {
		return nil, fmt.Errorf("coparam: nil mesh")
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("coparam: %w", err)
	}

	bb := m.Bounds()
	size := bb.Size()
	// Flat axes would divide by zero.
	for i := 0; i < 3; i++ {
		if !(size.Get(i) > 0) {
			size.Set(i, 1)
		}
	}

	n := m.TriangleCount()
	vertices := make([]float64, 0, n*9)
	indices := make([]int, n*3)
	corners := make([]int, n*3)
	for t := 0; t < n; t++ {
		tri := m.Triangle(t)
		mat := dominant(tri)
		u, v := chartAxes(mat)
		for j := 0; j < 3; j++ {
			local := tri[j].Sub(bb.Min)
			vertices = append(vertices,
				local.Get(u)/size.Get(u),
				local.Get(v)/size.Get(v),
				float64(mat))
			indices[t*3+j] = t*3 + j
			corners[t*3+j] = m.Corner(t, j)
		}
	}

	return &ParamMesh{
		Param:        &mesh.Buffer{Dim: 3, Vertices: vertices, Indices: indices},
		Source:       m,
		CornerVertex: corners,
	}, nil
}

// dominant returns the chart of the largest normal component. Ties go to
// the lower axis; a degenerate triangle lands on +X.
func dominant(tri sdf.Triangle3) Material {
	n := tri[1].Sub(tri[0]).Cross(tri[2].Sub(tri[0]))
	axis := 0
	for i := 1; i < 3; i++ {
		if math.Abs(n.Get(i)) > math.Abs(n.Get(axis)) {
			axis = i
		}
	}
	mat := Material(axis * 2)
	if n.Get(axis) < 0 {
		mat++
	}
	return mat
}

// chartAxes returns the source axes used for u and v on a chart.
func chartAxes(m Material) (u, v int) {
	switch m {
	case PosX, NegX:
		return 1, 2
	case PosY, NegY:
		return 0, 2
	default:
		return 0, 1
	}
}

// MaterialOf returns the chart a coparam lies on.
func MaterialOf(c Coparam) Material {
	return Material(math.Round(c.Z))
}

// ToPosition maps coparams to world positions: each coparam is projected
// onto the param mesh through idx, the hit barycentrics are applied to the
// corresponding source triangle, and the object transform is applied.
// Coparams farther than maxErr from the param mesh, or that miss it, give a
// NaN position. A maxErr of zero or less means DefaultMaxProjectionError.
func ToPosition(idx accel.Index, pm *ParamMesh, coparams []Coparam, transform sdf.M44, maxErr float64) []v3.Vec {
	if maxErr <= 0 {
		maxErr = DefaultMaxProjectionError
	}
	limit := maxErr * maxErr

	hits := accel.QueryVecs(idx, coparams)
	out := make([]v3.Vec, len(hits))
	for i, h := range hits {
		if !h.OK() || h.Dist2 > limit {
			out[i] = nan()
			continue
		}
		out[i] = transform.MulPosition(pm.sourcePoint(h.Triangle, h.Bary))
	}
	return out
}

// sourcePoint interpolates the source corners of param triangle t.
func (pm *ParamMesh) sourcePoint(t int, bary [3]float64) v3.Vec {
	var p v3.Vec
	for j := 0; j < 3; j++ {
		src := pm.CornerVertex[pm.Param.Corner(t, j)]
		p = p.Add(pm.Source.Vertex(src).MulScalar(bary[j]))
	}
	return p
}

// FromPosition projects a world point onto the source mesh through idx
// after applying inverse, and returns the coparam of the projection along
// with the raw hit. A miss returns a NaN coparam.
func FromPosition(idx accel.Index, pm *ParamMesh, p v3.Vec, inverse sdf.M44) (Coparam, accel.Hit) {
	h := idx.Nearest(inverse.MulPosition(p))
	if !h.OK() {
		return nan(), h
	}
	return pm.Param.Interpolate(h.Triangle, h.Bary), h
}

func nan() v3.Vec {
	n := math.NaN()
	return v3.Vec{X: n, Y: n, Z: n}
}

// IsNaN reports whether any component of v is NaN.
func IsNaN(v v3.Vec) bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z)
}
