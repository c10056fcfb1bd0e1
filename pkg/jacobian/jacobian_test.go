package jacobian

import (
	"context"
	"math"
	"testing"

	"github.com/chazu/amend/pkg/coparam"
	"github.com/chazu/amend/pkg/kernel/sdfx"
	"github.com/chazu/amend/pkg/profiling"
	"github.com/chazu/amend/pkg/shape"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slabSource is a box with its +X face at x = width.
const slabSource = `
(def w (param "width" 10 :min 5 :max 20))
(def d (param "depth" 4 :min 2 :max 8))
(defpart "slab" (box :size (vec3 w d 4)))
`

func newSlab(t *testing.T) (*shape.Shape, []*shape.Object) {
	t.Helper()
	k := sdfx.New()
	k.SetMeshCells(16)
	sh, err := shape.New(slabSource, k)
	require.NoError(t, err)
	objects, err := sh.Update(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	return sh, objects
}

var faceCenter = v3.Vec{X: 10, Y: 2, Z: 2}

func TestSampleAround(t *testing.T) {
	_, objects := newSlab(t)

	s, err := SampleAround(objects, faceCenter, 0.5, 32, 1)
	require.NoError(t, err)
	require.Greater(t, s.Len(), 1)
	assert.Equal(t, []string{"slab"}, s.Objects)
	assert.Equal(t, 0, s.Main)

	main, ok := s.MainPosition()
	require.True(t, ok)
	assert.InDelta(t, 0, main.Sub(faceCenter).Length(), 1e-6)
	assert.Equal(t, v3.Vec{}, s.Offsets[s.Main])

	for i := 0; i < s.Len(); i++ {
		assert.Equal(t, 0, s.ObjectOf[i])
		assert.InDelta(t, 10, s.Positions[i].X, 1e-5, "sample %d lies on the +X face", i)
		assert.Less(t, s.Positions[i].Sub(main).Length(), 0.5*DiscardFactor)
		assert.Less(t, s.Offsets[i].Length(), 0.5+1e-12)
		assert.Equal(t, 0.0, math.Round(s.Coparams[i].Z), "material +X")
	}

	start, end := s.ByObject(0)
	assert.Equal(t, 0, start)
	assert.Equal(t, s.Len(), end)
}

func TestSampleAroundDeterministic(t *testing.T) {
	_, objects := newSlab(t)
	a, err := SampleAround(objects, faceCenter, 0.5, 16, 7)
	require.NoError(t, err)
	b, err := SampleAround(objects, faceCenter, 0.5, 16, 7)
	require.NoError(t, err)
	assert.Equal(t, a.Coparams, b.Coparams)
	assert.Equal(t, a.Offsets, b.Offsets)
}

func TestSampleAroundErrors(t *testing.T) {
	_, objects := newSlab(t)

	_, err := SampleAround(objects, faceCenter, 0.5, 0, 1)
	assert.Error(t, err)
	_, err = SampleAround(objects, faceCenter, 0, 8, 1)
	assert.Error(t, err)
	_, err = SampleAround(objects, faceCenter, math.NaN(), 8, 1)
	assert.Error(t, err)
	_, err = SampleAround(nil, faceCenter, 0.5, 8, 1)
	assert.ErrorIs(t, err, ErrNoSurface)
}

func TestEvalPositionsRoundTrip(t *testing.T) {
	_, objects := newSlab(t)
	s, err := SampleAround(objects, faceCenter, 0.5, 32, 3)
	require.NoError(t, err)

	pos := EvalPositions(objects, s, 0)
	require.Len(t, pos, s.Len())
	for i := range pos {
		assert.InDelta(t, 0, pos[i].Sub(s.Positions[i]).Length(), 1e-6, "sample %d", i)
	}

	renamed := []*shape.Object{{Name: "other"}}
	for _, p := range EvalPositions(renamed, s, 0) {
		assert.True(t, math.IsNaN(p.X))
	}
}

func TestComputeJacobians(t *testing.T) {
	sh, objects := newSlab(t)
	s, err := SampleAround(objects, faceCenter, 0.5, 24, 5)
	require.NoError(t, err)

	root := profiling.InitTrace("test")
	prof := profiling.NewPool()
	j, err := ComputeJacobians(context.Background(), sh, s,
		WithDeltaFactor(1e-2), WithTrace(root), WithProfiling(prof))
	require.NoError(t, err)
	require.Equal(t, s.Len(), j.N)
	require.Equal(t, 2, j.K)

	for i := 0; i < j.N; i++ {
		require.True(t, j.Valid(i, 0), "sample %d width", i)
		require.True(t, j.Valid(i, 1), "sample %d depth", i)

		width := j.Column(i, 0)
		assert.InDelta(t, 1, width.X, 1e-3)
		assert.InDelta(t, 0, width.Y, 1e-3)
		assert.InDelta(t, 0, width.Z, 1e-3)

		// The face stretches with depth: y = u * depth.
		assert.InDelta(t, 0, j.At(i, 0, 1), 1e-3)
		assert.InDelta(t, s.Positions[i].Y/4, j.At(i, 1, 1), 1e-3)
		assert.InDelta(t, 0, j.At(i, 2, 1), 1e-3)
	}

	hps := sh.Hyperparams()
	assert.Equal(t, 10.0, hps[0].Value)
	assert.Equal(t, 4.0, hps[1].Value)

	spans := root.Flatten()
	require.Len(t, spans, 4)
	assert.Equal(t, "jacobians", spans[1].Name)
	assert.Equal(t, "param width", spans[2].Name)
	assert.Equal(t, "param depth", spans[3].Name)
	assert.Equal(t, 2, prof.Counter("jacobian:param").Samples())
}

func TestComputeJacobiansAtMax(t *testing.T) {
	sh, objects := newSlab(t)
	require.NoError(t, sh.SetHyperparam("width", 20))
	objects, err := sh.Update(context.Background())
	require.NoError(t, err)

	s, err := SampleAround(objects, v3.Vec{X: 20, Y: 2, Z: 2}, 0.5, 8, 1)
	require.NoError(t, err)
	j, err := ComputeJacobians(context.Background(), sh, s, WithDeltaFactor(1e-2))
	require.NoError(t, err)
	for i := 0; i < j.N; i++ {
		assert.InDelta(t, 1, j.At(i, 0, 0), 1e-3, "stepping down gives the same slope")
	}
	assert.Equal(t, 20.0, sh.Hyperparams()[0].Value)
}

func TestColumnRestoresParameter(t *testing.T) {
	sh, objects := newSlab(t)
	s, err := SampleAround(objects, faceCenter, 0.5, 8, 3)
	require.NoError(t, err)
	base := EvalPositions(objects, s, coparam.DefaultMaxProjectionError)

	o := options{
		fac:    1e-2,
		maxErr: coparam.DefaultMaxProjectionError,
		log:    zap.NewNop(),
		prof:   profiling.NewPool(),
	}
	j := NewJacobians(s.Len(), 2)
	hps := sh.Hyperparams()

	require.NoError(t, column(context.Background(), sh, s, j, 0, hps[0], base, &o, nil))
	assert.Equal(t, 10.0, sh.Hyperparams()[0].Value, "width is put back")

	// Depth is differenced around the original width.
	require.NoError(t, column(context.Background(), sh, s, j, 1, hps[1], base, &o, nil))
	assert.Equal(t, 4.0, sh.Hyperparams()[1].Value)
	for i := 0; i < j.N; i++ {
		require.True(t, j.Valid(i, 1))
		assert.InDelta(t, 0, j.At(i, 0, 1), 1e-3)
		assert.InDelta(t, s.Positions[i].Y/4, j.At(i, 1, 1), 1e-3)
	}

	err = column(context.Background(), sh, s, j, 5, shape.Hyperparameter{Name: "ghost"}, base, &o, nil)
	assert.Error(t, err, "unknown parameter index")
}

func TestComputeJacobiansCanceled(t *testing.T) {
	sh, objects := newSlab(t)
	s, err := SampleAround(objects, faceCenter, 0.5, 8, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ComputeJacobians(ctx, sh, s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10.0, sh.Hyperparams()[0].Value)
}

func TestComputeJacobiansNoSamples(t *testing.T) {
	sh, _ := newSlab(t)
	j, err := ComputeJacobians(context.Background(), sh, &Samples{Main: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, j.N)
	assert.Equal(t, 2, j.K)
}

func TestJacobiansMean(t *testing.T) {
	j := NewJacobians(3, 2)
	j.Set(0, 0, v3.Vec{X: 1})
	j.Set(1, 0, v3.Vec{X: 3})
	j.Set(2, 0, v3.Vec{X: math.NaN()})
	j.Set(0, 1, v3.Vec{Y: 2})

	assert.False(t, j.Valid(2, 0))
	assert.False(t, j.Valid(1, 1), "never set")
	assert.Equal(t, v3.Vec{X: 2}, j.Mean(0, nil))
	assert.Equal(t, v3.Vec{Y: 2}, j.Mean(1, nil))
	assert.Equal(t, v3.Vec{X: 3}, j.Mean(0, func(i int) bool { return i == 1 }))
	assert.True(t, math.IsNaN(j.Mean(1, func(i int) bool { return i > 0 }).X))
	assert.Equal(t, []float64{1, 3}, j.Norms(0, nil))
}

func TestMeanStd(t *testing.T) {
	m, s := meanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5, m, 1e-12)
	assert.InDelta(t, 2, s, 1e-12)

	m, s = meanStd(nil)
	assert.True(t, math.IsNaN(m))
	assert.True(t, math.IsNaN(s))
}
