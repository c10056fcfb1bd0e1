package accel

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/chazu/amend/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Result holds the projections of a batch of query points as parallel
// flat arrays, in query order. Entry i of a query that hit nothing has
// triangle -1 and NaN position and barycentrics.
type Result struct {
	Dim          int       `json:"dim"`
	Positions    []float64 `json:"positions"`    // Dim floats per query
	Barycentrics []float64 `json:"barycentrics"` // 3 floats per query
	Triangles    []int     `json:"triangles"`    // 1 int per query
}

func newResult(dim, n int) *Result {
	return &Result{
		Dim:          dim,
		Positions:    make([]float64, n*dim),
		Barycentrics: make([]float64, n*3),
		Triangles:    make([]int, n),
	}
}

// Len returns the number of query results.
func (r *Result) Len() int {
	return len(r.Triangles)
}

// Position returns the projected position of query i.
func (r *Result) Position(i int) []float64 {
	return r.Positions[i*r.Dim : (i+1)*r.Dim]
}

// Hit returns entry i as a Hit. Dist2 is left at zero; use Dist2 to
// measure against the query.
func (r *Result) Hit(i int) Hit {
	pos := r.Position(i)
	h := Hit{
		Point:    v3.Vec{X: pos[0], Y: pos[1]},
		Triangle: r.Triangles[i],
	}
	if r.Dim == 3 {
		h.Point.Z = pos[2]
	}
	copy(h.Bary[:], r.Barycentrics[i*3:i*3+3])
	return h
}

// Dist2 returns the squared distance between query i and its projection,
// +Inf when the query hit nothing.
func (r *Result) Dist2(i int, query []float64) float64 {
	if r.Triangles[i] < 0 {
		return math.Inf(1)
	}
	d2 := 0.0
	for j, x := range r.Position(i) {
		d := x - query[j]
		d2 += d * d
	}
	return d2
}

func (r *Result) set(i int, h Hit) {
	pos := r.Position(i)
	pos[0], pos[1] = h.Point.X, h.Point.Y
	if r.Dim == 3 {
		pos[2] = h.Point.Z
	}
	copy(r.Barycentrics[i*3:i*3+3], h.Bary[:])
	r.Triangles[i] = h.Triangle
}

// minParallelQueries is the batch size below which queries run on the
// calling goroutine.
const minParallelQueries = 64

type queryOptions struct {
	workers int
}

// QueryOption configures Query.
type QueryOption func(*queryOptions)

// WithWorkers sets how many goroutines share a batch. Values below 1 use
// runtime.NumCPU().
func WithWorkers(n int) QueryOption {
	return func(o *queryOptions) { o.workers = n }
}

// Query projects every point of a flat buffer, with the index's mesh
// dimension per point, onto the mesh. An empty buffer gives an empty
// result.
func Query(idx Index, points []float64, opts ...QueryOption) (*Result, error) {
	if idx == nil {
		return nil, fmt.Errorf("accel: query: nil index")
	}
	dim := idx.Mesh().Dim
	if len(points)%dim != 0 {
		return nil, fmt.Errorf("accel: query: %d coordinates is not a multiple of dimension %d: %w",
			len(points), dim, mesh.ErrLength)
	}
	n := len(points) / dim
	res := newResult(dim, n)
	run(n, opts, func(i int) {
		p := v3.Vec{X: points[i*dim], Y: points[i*dim+1]}
		if dim == 3 {
			p.Z = points[i*dim+2]
		}
		res.set(i, idx.Nearest(p))
	})
	return res, nil
}

// QueryVecs projects points onto the mesh and returns one Hit per point,
// in order.
func QueryVecs(idx Index, points []v3.Vec, opts ...QueryOption) []Hit {
	hits := make([]Hit, len(points))
	run(len(points), opts, func(i int) {
		hits[i] = idx.Nearest(points[i])
	})
	return hits
}

// Project builds a throwaway index over (vertices, indices) and queries
// it once.
func Project(dim int, vertices []float64, indices []int, points []float64, opts ...QueryOption) (*Result, error) {
	m, err := mesh.New(dim, vertices, indices)
	if err != nil {
		return nil, fmt.Errorf("accel: project: %w", err)
	}
	idx, err := Build(m)
	if err != nil {
		return nil, err
	}
	return Query(idx, points, opts...)
}

// run calls fn for every i in [0, n), splitting the range into contiguous
// chunks across workers. Each i is written by exactly one goroutine.
func run(n int, opts []QueryOption, fn func(i int)) {
	o := queryOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}
	if n < minParallelQueries || o.workers == 1 {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	workers := min(o.workers, n)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}
