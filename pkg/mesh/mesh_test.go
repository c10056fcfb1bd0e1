package mesh

import (
	"errors"
	"testing"

	"github.com/chazu/amend/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitSquare(t *testing.T) *Buffer {
	t.Helper()
	b, err := New(2,
		[]float64{0, 0, 1, 0, 1, 1, 0, 1},
		[]int{0, 1, 2, 0, 2, 3})
	require.NoError(t, err)
	return b
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		vertices []float64
		indices  []int
		want     error
	}{
		{"valid 2d", 2, []float64{0, 0, 1, 0, 0, 1}, []int{0, 1, 2}, nil},
		{"valid 3d", 3, []float64{0, 0, 0, 1, 0, 0, 0, 1, 0}, []int{0, 1, 2}, nil},
		{"empty", 3, nil, nil, nil},
		{"dimension 4", 4, []float64{0, 0, 0, 0}, nil, ErrDimension},
		{"partial vertex", 3, []float64{0, 0, 0, 1}, nil, ErrLength},
		{"partial triangle", 2, []float64{0, 0, 1, 0}, []int{0, 1}, ErrLength},
		{"index too large", 2, []float64{0, 0, 1, 0, 0, 1}, []int{0, 1, 3}, ErrIndexRange},
		{"negative index", 2, []float64{0, 0, 1, 0, 0, 1}, []int{0, -1, 2}, ErrIndexRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dim, tt.vertices, tt.indices)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "New() error = %v, want %v", err, tt.want)
		})
	}
}

func TestCounts(t *testing.T) {
	b := unitSquare(t)
	assert.Equal(t, 4, b.VertexCount())
	assert.Equal(t, 2, b.TriangleCount())
	assert.False(t, b.IsEmpty())
	assert.Equal(t, 3, b.Corner(1, 2))
}

func TestVertex2DHasZeroZ(t *testing.T) {
	b := unitSquare(t)
	assert.Equal(t, v3.Vec{X: 1, Y: 1}, b.Vertex(2))
}

func TestInterpolate(t *testing.T) {
	b := unitSquare(t)
	p := b.Interpolate(0, [3]float64{0.5, 0, 0.5})
	assert.InDelta(t, 0.5, p.X, 1e-12)
	assert.InDelta(t, 0.5, p.Y, 1e-12)

	corner := b.Interpolate(1, [3]float64{0, 0, 1})
	assert.Equal(t, v3.Vec{X: 0, Y: 1}, corner)
}

func TestBounds(t *testing.T) {
	b, err := New(3, []float64{-1, 2, 0, 3, -4, 5, 0, 0, 1}, []int{0, 1, 2})
	require.NoError(t, err)
	box := b.Bounds()
	assert.Equal(t, v3.Vec{X: -1, Y: -4, Z: 0}, box.Min)
	assert.Equal(t, v3.Vec{X: 3, Y: 2, Z: 5}, box.Max)
}

func TestHashDeterministic(t *testing.T) {
	a := unitSquare(t)
	b := unitSquare(t)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, a.Hash().Short(), 8)

	b.Vertices[0] = 1e-9
	assert.NotEqual(t, a.Hash(), b.Hash(), "moving a vertex must change the digest")

	c := unitSquare(t)
	c.Indices[0], c.Indices[1] = c.Indices[1], c.Indices[0]
	assert.NotEqual(t, a.Hash(), c.Hash(), "reordering corners must change the digest")
}

func TestFromKernel(t *testing.T) {
	km := &kernel.Mesh{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
		PartName: "tri",
	}
	b, err := FromKernel(km)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Dim)
	assert.Equal(t, 1, b.TriangleCount())

	km.Indices = []uint32{0, 1, 7}
	_, err = FromKernel(km)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIndexRange)
	assert.Contains(t, err.Error(), `"tri"`)

	_, err = FromKernel(nil)
	assert.Error(t, err)
}

func TestFromTrianglesRoundTrip(t *testing.T) {
	tris := []*sdf.Triangle3{
		{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
		{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 1}},
	}
	b := FromTriangles(tris)
	require.NoError(t, b.Validate())
	assert.Equal(t, 6, b.VertexCount())

	out := b.Triangles()
	require.Len(t, out, 2)
	for i := range tris {
		assert.True(t, out[i].Equals(tris[i], 0), "triangle %d changed", i)
	}
}
