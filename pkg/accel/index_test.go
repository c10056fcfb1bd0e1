package accel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/chazu/amend/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allBackends = []Backend{BackendBVH, BackendRTree, BackendLinear}

func unitSquare(t *testing.T) *mesh.Buffer {
	t.Helper()
	m, err := mesh.New(2,
		[]float64{0, 0, 1, 0, 1, 1, 0, 1},
		[]int{0, 1, 2, 0, 2, 3})
	require.NoError(t, err)
	return m
}

// randomSoup returns n independent triangles with corners in [0,1)^dim.
func randomSoup(t *testing.T, rng *rand.Rand, dim, n int) *mesh.Buffer {
	t.Helper()
	vertices := make([]float64, 0, n*3*dim)
	indices := make([]int, 0, n*3)
	for i := 0; i < n*3; i++ {
		for j := 0; j < dim; j++ {
			vertices = append(vertices, rng.Float64())
		}
		indices = append(indices, i)
	}
	m, err := mesh.New(dim, vertices, indices)
	require.NoError(t, err)
	return m
}

// randomGrid returns a connected height-field mesh with shared vertices.
func randomGrid(t *testing.T, rng *rand.Rand, cells int) *mesh.Buffer {
	t.Helper()
	var vertices []float64
	for y := 0; y <= cells; y++ {
		for x := 0; x <= cells; x++ {
			vertices = append(vertices, float64(x), float64(y), rng.Float64()*0.5)
		}
	}
	var indices []int
	row := cells + 1
	for y := 0; y < cells; y++ {
		for x := 0; x < cells; x++ {
			i := y*row + x
			indices = append(indices, i, i+1, i+row+1, i, i+row+1, i+row)
		}
	}
	m, err := mesh.New(3, vertices, indices)
	require.NoError(t, err)
	return m
}

func build(t *testing.T, m *mesh.Buffer, b Backend, opts ...Option) Index {
	t.Helper()
	idx, err := Build(m, append([]Option{WithBackend(b)}, opts...)...)
	require.NoError(t, err)
	require.Equal(t, b, idx.Backend())
	return idx
}

func TestUnitSquareScenario(t *testing.T) {
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, unitSquare(t), b)

			// On the shared diagonal both triangles are at distance 0; the
			// lower index wins.
			h := idx.Nearest(vec(0.5, 0.5, 0))
			assert.Equal(t, 0, h.Triangle)
			assert.InDelta(t, 0, h.Distance(), 1e-12)
			assert.True(t, h.Point.Equals(vec(0.5, 0.5, 0), 1e-12), "Point = %v", h.Point)
			assertBary(t, h.Bary)

			h = idx.Nearest(vec(2.0, 0.5, 0))
			assert.Equal(t, 0, h.Triangle)
			assert.InDelta(t, 1.0, h.Distance(), 1e-12)
			assert.True(t, h.Point.Equals(vec(1.0, 0.5, 0), 1e-12), "Point = %v", h.Point)
			assertBary(t, h.Bary)

			// Interior of the second triangle.
			h = idx.Nearest(vec(0.2, 0.7, 0))
			assert.Equal(t, 1, h.Triangle)
			assert.InDelta(t, 0, h.Dist2, 1e-24)
		})
	}
}

func TestQueryIgnoresZOn2DMesh(t *testing.T) {
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, unitSquare(t), b)
			h := idx.Nearest(vec(0.75, 0.25, 42))
			assert.Equal(t, 0, h.Triangle)
			assert.InDelta(t, 0, h.Dist2, 1e-24)
			assert.Equal(t, 0.0, h.Point.Z)
		})
	}
}

func TestMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	meshes := map[string]*mesh.Buffer{
		"soup3d": randomSoup(t, rng, 3, 50),
		"soup2d": randomSoup(t, rng, 2, 50),
		"grid":   randomGrid(t, rng, 5),
		"single": randomSoup(t, rng, 3, 1),
	}

	for name, m := range meshes {
		ref := NewLinear(m)
		for _, b := range []Backend{BackendBVH, BackendRTree} {
			for _, leaf := range []int{1, 4, 16} {
				idx := build(t, m, b, WithLeafSize(leaf))
				for i := 0; i < 300; i++ {
					p := vec(rng.Float64()*3-1, rng.Float64()*3-1, rng.Float64()*3-1)
					want := ref.Nearest(p)
					got := idx.Nearest(p)
					if got.Triangle != want.Triangle {
						t.Fatalf("%s/%s leaf %d query %v: triangle = %d, want %d (dist2 %g vs %g)",
							name, b, leaf, p, got.Triangle, want.Triangle, got.Dist2, want.Dist2)
					}
					assert.InDelta(t, want.Distance(), got.Distance(), 1e-6)
				}
			}
		}
	}
}

func TestProjectionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	m := randomGrid(t, rng, 4)
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			for i := 0; i < 200; i++ {
				p := vec(rng.Float64()*6-1, rng.Float64()*6-1, rng.Float64()*2-1)
				h := idx.Nearest(p)
				require.True(t, h.OK())
				assert.GreaterOrEqual(t, h.Dist2, 0.0)
				assertBary(t, h.Bary)
				recon := m.Interpolate(h.Triangle, h.Bary)
				assert.True(t, recon.Equals(h.Point, 1e-9), "bary reconstructs %v, want %v", recon, h.Point)
			}
		})
	}
}

func TestPointOnMeshIsFixed(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := randomGrid(t, rng, 4)
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			for i := 0; i < 100; i++ {
				tri := rng.Intn(m.TriangleCount())
				u, v := rng.Float64(), rng.Float64()
				if u+v > 1 {
					u, v = 1-u, 1-v
				}
				p := m.Interpolate(tri, [3]float64{1 - u - v, u, v})

				h := idx.Nearest(p)
				assert.InDelta(t, 0, h.Distance(), 1e-9)
				assert.True(t, h.Point.Equals(p, 1e-9), "projection moved %v to %v", p, h.Point)
				recon := m.Interpolate(h.Triangle, h.Bary)
				assert.True(t, recon.Equals(p, 1e-9))
			}
		})
	}
}

func TestDegenerateTriangleSafety(t *testing.T) {
	m, err := mesh.New(3, []float64{
		0, 0, 0, 1, 0, 0, 0, 1, 0, // regular
		2, 0, 0, 3, 0, 0, 4, 0, 0, // collinear
		0, 5, 0, 0, 5, 0, 0, 5, 0, // single point
	}, []int{0, 1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			for i := 0; i < 300; i++ {
				p := vec(rng.Float64()*8-2, rng.Float64()*8-2, rng.Float64()*4-2)
				h := idx.Nearest(p)
				require.True(t, h.OK())
				for _, x := range []float64{h.Point.X, h.Point.Y, h.Point.Z, h.Dist2, h.Bary[0], h.Bary[1], h.Bary[2]} {
					require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "non-finite output for %v: %+v", p, h)
				}
			}

			h := idx.Nearest(vec(0.2, 0.2, 0.1))
			assert.Equal(t, 0, h.Triangle, "regular triangle must still win when closer")

			h = idx.Nearest(vec(3, 0.1, 0))
			assert.Equal(t, 1, h.Triangle)
			assert.True(t, h.Point.Equals(vec(3, 0, 0), 1e-12))

			h = idx.Nearest(vec(0, 6, 0))
			assert.Equal(t, 2, h.Triangle)
			assert.InDelta(t, 1, h.Distance(), 1e-12)
		})
	}
}

func TestEmptyMeshMisses(t *testing.T) {
	m, err := mesh.New(3, nil, nil)
	require.NoError(t, err)
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			h := idx.Nearest(vec(1, 2, 3))
			assert.False(t, h.OK())
			assert.Equal(t, -1, h.Triangle)
			assert.True(t, math.IsNaN(h.Point.X))
			assert.True(t, math.IsInf(h.Dist2, 1))
		})
	}
}

func TestNonFiniteQueryMisses(t *testing.T) {
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, unitSquare(t), b)
			assert.False(t, idx.Nearest(vec(math.NaN(), 0, 0)).OK())
			assert.False(t, idx.Nearest(vec(0, math.Inf(1), 0)).OK())
		})
	}
}

func TestBuildRejectsMalformedMesh(t *testing.T) {
	_, err := Build(nil)
	assert.Error(t, err)

	bad := &mesh.Buffer{Dim: 2, Vertices: []float64{0, 0, 1, 0, 0, 1}, Indices: []int{0, 1, 3}}
	_, err = Build(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, mesh.ErrIndexRange)

	_, err = Build(unitSquare(t), WithBackend(Backend(99)))
	assert.Error(t, err)
}

func TestDeterministicAcrossBuilds(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m := randomSoup(t, rng, 3, 40)
	a := build(t, m, BackendBVH)
	b := build(t, m, BackendBVH)
	for i := 0; i < 100; i++ {
		p := vec(rng.Float64(), rng.Float64(), rng.Float64())
		assert.Equal(t, a.Nearest(p), b.Nearest(p))
	}
}

func TestBVHShape(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	m := randomSoup(t, rng, 3, 64)

	b := NewBVH(m, 4)
	assert.Equal(t, 64, len(b.order))
	assert.Greater(t, b.NodeCount(), 1)
	// 64 triangles halved down to leaves of 4 gives 5 levels.
	assert.Equal(t, 5, b.Depth())

	seen := make(map[int]bool)
	for _, tri := range b.order {
		seen[tri] = true
	}
	assert.Len(t, seen, 64, "every triangle appears in exactly one leaf")

	empty := NewBVH(&mesh.Buffer{Dim: 3}, 4)
	assert.Equal(t, 0, empty.Depth())
}

func TestRTreeSize(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	r := NewRTree(randomSoup(t, rng, 2, 120))
	assert.Equal(t, 120, r.Size())
	assert.Equal(t, 0, NewRTree(&mesh.Buffer{Dim: 2}).Size())
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendBVH, false},
		{"BVH", BackendBVH, false},
		{"rtree", BackendRTree, false},
		{" linear ", BackendLinear, false},
		{"octree", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseBackend(%q)", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ParseBackend(%q)", tt.in)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) Backend {
	t.Helper()
	b, err := ParseBackend(s)
	require.NoError(t, err)
	return b
}

func TestNearestTieSelection(t *testing.T) {
	tol := tolerance{floor: 1e-24, scale: 1}
	n := newNearest(tol)
	n.offer(Hit{Triangle: 5, Dist2: 1})
	n.offer(Hit{Triangle: 2, Dist2: 1 + 0.5*tol.window(1)})
	n.offer(Hit{Triangle: 9, Dist2: 0.5})
	n.offer(Hit{Triangle: 7, Dist2: 0.5})
	n.offer(Hit{Triangle: 1, Dist2: 3})
	assert.Equal(t, 7, n.best().Triangle)

	empty := newNearest(tol)
	assert.Equal(t, -1, empty.best().Triangle)
}

func TestToleranceScalesWithMesh(t *testing.T) {
	tiny, err := mesh.New(2, []float64{0, 0, 1e-6, 0, 0, 1e-6}, []int{0, 1, 2})
	require.NoError(t, err)
	tol := newTolerance(tiny)
	assert.InDelta(t, 1e-36, tol.floor, 1e-48)
	assert.InDelta(t, 1e-12, tol.scale, 1e-24)

	empty := newTolerance(&mesh.Buffer{Dim: 3})
	assert.Equal(t, tieFloorEpsilon, empty.floor)

	// Distance zero ties only within rounding, far below any projection
	// error threshold.
	assert.Less(t, newTolerance(unitSquare(t)).window(0), 1e-20)
}

func scaledSquare(t *testing.T, s float64) *mesh.Buffer {
	t.Helper()
	m, err := mesh.New(2,
		[]float64{0, 0, s, 0, s, s, 0, s},
		[]int{0, 1, 2, 0, 2, 3})
	require.NoError(t, err)
	return m
}

func TestNearSharedEdge(t *testing.T) {
	for _, b := range allBackends {
		for _, s := range []float64{1, 1e-6, 1e3} {
			idx := build(t, scaledSquare(t, s), b)
			for _, d := range []float64{1e-7, 5e-7, 1e-6} {
				tests := []struct {
					p    v3.Vec
					want int
				}{
					{vec(0.5*s, (0.5+d)*s, 0), 1},
					{vec((0.5+d)*s, 0.5*s, 0), 0},
				}
				for _, tt := range tests {
					h := idx.Nearest(tt.p)
					assert.Equal(t, tt.want, h.Triangle, "%s scale %g query %v", b, s, tt.p)
					assert.InDelta(t, 0, h.Distance(), 1e-12*s, "%s scale %g query %v", b, s, tt.p)
					assert.True(t, h.Point.Equals(tt.p, 1e-12*s), "%s: %v moved to %v", b, tt.p, h.Point)
				}
			}

			// Exactly on the edge both triangles are at distance zero.
			h := idx.Nearest(vec(0.5*s, 0.5*s, 0))
			assert.Equal(t, 0, h.Triangle, "%s scale %g", b, s)
		}
	}
}

func TestNearEdgeOnGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m := randomGrid(t, rng, 4)
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			for i := 0; i < 100; i++ {
				tri := rng.Intn(m.TriangleCount())
				u := 0.2 + 0.4*rng.Float64()
				v := []float64{1e-7, 5e-7, 1e-6}[i%3]
				p := m.Interpolate(tri, [3]float64{1 - u - v, u, v})

				h := idx.Nearest(p)
				require.Equal(t, tri, h.Triangle, "query %v near an edge of %d", p, tri)
				assert.InDelta(t, 0, h.Distance(), 1e-12)
			}
		})
	}
}
