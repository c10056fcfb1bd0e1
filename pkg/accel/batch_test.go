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

func randomPoints(rng *rand.Rand, dim, n int) []float64 {
	pts := make([]float64, n*dim)
	for i := range pts {
		pts[i] = rng.Float64()*3 - 1
	}
	return pts
}

func TestQueryMatchesNearest(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	m := randomSoup(t, rng, 3, 120)
	idx := build(t, m, BackendBVH)
	points := randomPoints(rng, 3, 500)

	for _, workers := range []int{0, 1, 3, 8} {
		res, err := Query(idx, points, WithWorkers(workers))
		require.NoError(t, err)
		require.Equal(t, 500, res.Len())
		for i := 0; i < res.Len(); i++ {
			want := idx.Nearest(vec(points[i*3], points[i*3+1], points[i*3+2]))
			got := res.Hit(i)
			if got.Triangle != want.Triangle || !got.Point.Equals(want.Point, 0) {
				t.Fatalf("workers=%d query %d: got %+v, want %+v", workers, i, got, want)
			}
			assert.InDelta(t, want.Dist2, res.Dist2(i, points[i*3:i*3+3]), 1e-12)
		}
	}
}

func TestQuery2D(t *testing.T) {
	idx := build(t, unitSquare(t), BackendRTree)
	res, err := Query(idx, []float64{0.5, 0.5, 2, 0.5, 0.2, 0.7})
	require.NoError(t, err)
	require.Equal(t, 3, res.Len())
	assert.Equal(t, []int{0, 0, 1}, res.Triangles)
	assert.Len(t, res.Positions, 6)
	assert.Len(t, res.Barycentrics, 9)
	assert.InDeltaSlice(t, []float64{1, 0.5}, res.Position(1), 1e-12)
	assert.InDelta(t, 1.0, res.Dist2(1, []float64{2, 0.5}), 1e-12)
}

func TestQueryEmptyPoints(t *testing.T) {
	idx := build(t, unitSquare(t), BackendBVH)
	res, err := Query(idx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Len())
	assert.Empty(t, res.Positions)
}

func TestQueryLengthMismatch(t *testing.T) {
	idx := build(t, unitSquare(t), BackendBVH)
	_, err := Query(idx, []float64{0, 0, 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, mesh.ErrLength)

	_, err = Query(nil, []float64{0, 0})
	assert.Error(t, err)
}

func TestQueryEmptyMeshSentinel(t *testing.T) {
	m, err := mesh.New(3, nil, nil)
	require.NoError(t, err)
	for _, b := range allBackends {
		t.Run(b.String(), func(t *testing.T) {
			idx := build(t, m, b)
			points := randomPoints(rand.New(rand.NewSource(1)), 3, 100)
			res, err := Query(idx, points, WithWorkers(4))
			require.NoError(t, err)
			for i := 0; i < res.Len(); i++ {
				assert.Equal(t, -1, res.Triangles[i])
				assert.True(t, math.IsNaN(res.Positions[i*3]))
				assert.True(t, math.IsNaN(res.Barycentrics[i*3]))
				assert.True(t, math.IsInf(res.Dist2(i, points[i*3:i*3+3]), 1))
			}
		})
	}
}

func TestQueryVecs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	idx := build(t, randomGrid(t, rng, 6), BackendRTree)
	points := make([]v3.Vec, 200)
	for i := range points {
		points[i] = vec(rng.Float64()*8-1, rng.Float64()*8-1, rng.Float64()*2-1)
	}
	hits := QueryVecs(idx, points, WithWorkers(4))
	require.Len(t, hits, len(points))
	for i, h := range hits {
		assert.Equal(t, idx.Nearest(points[i]), h, "query %d", i)
	}
}

func TestProject(t *testing.T) {
	res, err := Project(2,
		[]float64{0, 0, 1, 0, 1, 1, 0, 1},
		[]int{0, 1, 2, 0, 2, 3},
		[]float64{0.2, 0.7})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Triangles)
	assert.InDeltaSlice(t, []float64{0.2, 0.7}, res.Position(0), 1e-12)

	_, err = Project(2, []float64{0, 0, 1, 0, 0, 1}, []int{0, 1, 5}, []float64{0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, mesh.ErrIndexRange)

	_, err = Project(4, nil, nil, nil)
	assert.ErrorIs(t, err, mesh.ErrDimension)
}

func TestRunVisitsEachIndexOnce(t *testing.T) {
	for _, n := range []int{0, 1, 63, 64, 65, 1000} {
		counts := make([]int, n)
		run(n, []QueryOption{WithWorkers(7)}, func(i int) { counts[i]++ })
		for i, c := range counts {
			if c != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, c)
			}
		}
	}
}
