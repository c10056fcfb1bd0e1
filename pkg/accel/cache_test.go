package accel

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/chazu/amend/pkg/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(4, zap.NewNop(), WithBackend(BackendRTree))
	m := unitSquare(t)

	first, err := c.Get(m)
	require.NoError(t, err)
	assert.Equal(t, BackendRTree, first.Backend())

	// Same content in a different buffer is a hit.
	again, err := c.Get(&mesh.Buffer{
		Dim:      2,
		Vertices: append([]float64(nil), m.Vertices...),
		Indices:  append([]int(nil), m.Indices...),
	})
	require.NoError(t, err)
	assert.Same(t, first, again)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, c.Len())
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2, nil)
	rng := rand.New(rand.NewSource(2))
	a := randomSoup(t, rng, 3, 5)
	b := randomSoup(t, rng, 3, 5)
	d := randomSoup(t, rng, 3, 5)

	ia, err := c.Get(a)
	require.NoError(t, err)
	_, err = c.Get(b)
	require.NoError(t, err)

	// Touch a so b becomes the oldest.
	_, err = c.Get(a)
	require.NoError(t, err)
	_, err = c.Get(d)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	ia2, err := c.Get(a)
	require.NoError(t, err)
	assert.Same(t, ia, ia2)

	_, misses := c.Stats()
	_, err = c.Get(b)
	require.NoError(t, err)
	_, misses2 := c.Stats()
	assert.Equal(t, misses+1, misses2, "b should have been evicted")
}

func TestCacheConcurrentGet(t *testing.T) {
	c := NewCache(0, nil)
	m := randomGrid(t, rand.New(rand.NewSource(4)), 10)

	const n = 16
	got := make([]Index, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := c.Get(m)
			assert.NoError(t, err)
			got[i] = idx
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, 1, c.Len())
	hits, misses := c.Stats()
	assert.Equal(t, uint64(n), hits+misses)
}

func TestCachePurgeAndErrors(t *testing.T) {
	c := NewCache(4, nil)
	_, err := c.Get(unitSquare(t))
	require.NoError(t, err)
	c.Purge()
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(nil)
	assert.Error(t, err)

	_, err = c.Get(&mesh.Buffer{Dim: 5})
	assert.ErrorIs(t, err, mesh.ErrDimension)
	assert.Equal(t, 0, c.Len())
}
