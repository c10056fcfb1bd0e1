// Package mesh defines the triangle buffer shared by the index, the
// projector and the parameterization code. A buffer holds vertex
// positions of a fixed dimension (2 or 3) and triangles as flat triples
// of 0-based vertex indices. Positions are stored in double precision
// whatever precision the producer used.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/amend/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Sentinel errors for malformed buffers. Returned errors wrap one of these
// so callers can test with errors.Is.
var (
	ErrDimension  = errors.New("unsupported dimension")
	ErrLength     = errors.New("buffer length mismatch")
	ErrIndexRange = errors.New("vertex index out of range")
)

// Buffer is a triangle mesh in 2D or 3D.
// Vertices has Dim floats per vertex, Indices has 3 ints per triangle.
type Buffer struct {
	Dim      int       `json:"dim"`
	Vertices []float64 `json:"vertices"`
	Indices  []int     `json:"indices"`
}

// New validates and wraps the given buffers. The slices are not copied;
// callers must not modify them while the buffer is in use.
func New(dim int, vertices []float64, indices []int) (*Buffer, error) {
	b := &Buffer{Dim: dim, Vertices: vertices, Indices: indices}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the buffer invariants: a supported dimension, whole
// vertices and triangles, and every triangle index inside the vertex range.
func (b *Buffer) Validate() error {
	if b.Dim != 2 && b.Dim != 3 {
		return fmt.Errorf("mesh: dimension %d: %w", b.Dim, ErrDimension)
	}
	if len(b.Vertices)%b.Dim != 0 {
		return fmt.Errorf("mesh: %d vertex components is not a multiple of %d: %w",
			len(b.Vertices), b.Dim, ErrLength)
	}
	if len(b.Indices)%3 != 0 {
		return fmt.Errorf("mesh: %d indices is not a multiple of 3: %w", len(b.Indices), ErrLength)
	}
	n := b.VertexCount()
	for i, idx := range b.Indices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("mesh: triangle %d corner %d references vertex %d of %d: %w",
				i/3, i%3, idx, n, ErrIndexRange)
		}
	}
	return nil
}

// VertexCount returns the number of vertices.
func (b *Buffer) VertexCount() int {
	return len(b.Vertices) / b.Dim
}

// TriangleCount returns the number of triangles.
func (b *Buffer) TriangleCount() int {
	return len(b.Indices) / 3
}

// IsEmpty returns true if the mesh has no triangles.
func (b *Buffer) IsEmpty() bool {
	return len(b.Indices) == 0
}

// Vertex returns vertex i as a 3D vector. 2D vertices have Z = 0.
func (b *Buffer) Vertex(i int) v3.Vec {
	o := i * b.Dim
	if b.Dim == 2 {
		return v3.Vec{X: b.Vertices[o], Y: b.Vertices[o+1]}
	}
	return v3.Vec{X: b.Vertices[o], Y: b.Vertices[o+1], Z: b.Vertices[o+2]}
}

// Corner returns the vertex index of corner j (0..2) of triangle t.
func (b *Buffer) Corner(t, j int) int {
	return b.Indices[3*t+j]
}

// Triangle returns the three corners of triangle t.
func (b *Buffer) Triangle(t int) sdf.Triangle3 {
	return sdf.Triangle3{
		b.Vertex(b.Indices[3*t]),
		b.Vertex(b.Indices[3*t+1]),
		b.Vertex(b.Indices[3*t+2]),
	}
}

// Interpolate returns bary[0]*c0 + bary[1]*c1 + bary[2]*c2 for the
// corners of triangle t.
func (b *Buffer) Interpolate(t int, bary [3]float64) v3.Vec {
	tri := b.Triangle(t)
	return tri[0].MulScalar(bary[0]).Add(tri[1].MulScalar(bary[1])).Add(tri[2].MulScalar(bary[2]))
}

// Bounds returns the bounding box of all vertices referenced by a triangle.
// An empty mesh has an inverted box (Min = +Inf, Max = -Inf).
func (b *Buffer) Bounds() sdf.Box3 {
	inf := math.Inf(1)
	box := sdf.Box3{
		Min: v3.Vec{X: inf, Y: inf, Z: inf},
		Max: v3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
	for _, idx := range b.Indices {
		box = box.Include(b.Vertex(idx))
	}
	return box
}

// Triangles returns the mesh as a triangle soup, e.g. for STL export.
func (b *Buffer) Triangles() []*sdf.Triangle3 {
	out := make([]*sdf.Triangle3, b.TriangleCount())
	for t := range out {
		tri := b.Triangle(t)
		out[t] = &tri
	}
	return out
}

// FromKernel converts a kernel mesh into a 3D buffer, widening the
// float32 storage to float64.
func FromKernel(m *kernel.Mesh) (*Buffer, error) {
	if m == nil {
		return nil, errors.New("mesh: nil kernel mesh")
	}
	vertices := make([]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		vertices[i] = float64(v)
	}
	indices := make([]int, len(m.Indices))
	for i, idx := range m.Indices {
		indices[i] = int(idx)
	}
	b, err := New(3, vertices, indices)
	if err != nil {
		return nil, fmt.Errorf("mesh: part %q: %w", m.PartName, err)
	}
	return b, nil
}

// FromTriangles builds a 3D buffer from a triangle soup. Every triangle
// gets three vertices of its own.
func FromTriangles(tris []*sdf.Triangle3) *Buffer {
	b := &Buffer{
		Dim:      3,
		Vertices: make([]float64, 0, len(tris)*9),
		Indices:  make([]int, 0, len(tris)*3),
	}
	for _, t := range tris {
		for j := 0; j < 3; j++ {
			b.Vertices = append(b.Vertices, t[j].X, t[j].Y, t[j].Z)
			b.Indices = append(b.Indices, len(b.Indices))
		}
	}
	return b
}
