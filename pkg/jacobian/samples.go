package jacobian

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/chazu/amend/pkg/coparam"
	"github.com/chazu/amend/pkg/shape"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// ErrNoSurface is returned when no object surface can be sampled.
var ErrNoSurface = errors.New("jacobian: no surface to sample")

// DiscardFactor scales the sampling radius into the largest distance a
// sample may lie from the main point.
const DiscardFactor = 1.1

// Samples are surface points identified by coparams. Samples of the same
// object are contiguous, in object order.
type Samples struct {
	Objects   []string // object names, indexed by ObjectOf
	ObjectOf  []int
	Coparams  []coparam.Coparam
	Positions []v3.Vec // world positions when sampled
	Offsets   []v3.Vec // sampling offset from Center
	Center    v3.Vec
	Main      int // sample closest to Center, -1 when empty
}

// Len returns the number of samples.
func (s *Samples) Len() int {
	return len(s.Coparams)
}

// ByObject returns the half-open range of samples that belong to object k.
func (s *Samples) ByObject(k int) (start, end int) {
	start = sort.SearchInts(s.ObjectOf, k)
	end = sort.SearchInts(s.ObjectOf, k+1)
	return start, end
}

// MainPosition returns the world position of the main sample.
func (s *Samples) MainPosition() (v3.Vec, bool) {
	if s.Main < 0 || s.Main >= len(s.Positions) {
		return v3.Vec{}, false
	}
	return s.Positions[s.Main], true
}

type sample struct {
	object int
	cp     coparam.Coparam
	pos    v3.Vec
	offset v3.Vec
}

// SampleAround draws count points in the ball of the given radius around
// center, the first one being center itself, and projects each onto the
// closest object surface. Projections farther than radius*DiscardFactor
// from the projection of the closest draw are discarded. The same seed
// gives the same samples.
func SampleAround(objects []*shape.Object, center v3.Vec, radius float64, count int, seed uint64) (*Samples, error) {
	if count < 1 {
		return nil, fmt.Errorf("jacobian: sample count %d, must be at least 1", count)
	}
	if !(radius > 0) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("jacobian: sample radius %g, must be positive", radius)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var (
		all     []sample
		mainPos v3.Vec
		mainD2  = math.Inf(1)
	)
	for i := 0; i < count; i++ {
		var offset v3.Vec
		if i > 0 {
			offset = randomInBall(rng).MulScalar(radius)
		}
		s, ok := project(objects, center.Add(offset))
		if !ok {
			continue
		}
		s.offset = offset
		all = append(all, s)
		if d2 := offset.Length2(); d2 < mainD2 {
			mainPos, mainD2 = s.pos, d2
		}
	}
	if len(all) == 0 {
		return nil, ErrNoSurface
	}

	limit := radius * DiscardFactor
	limit *= limit
	kept := all[:0]
	for _, s := range all {
		if s.pos.Sub(mainPos).Length2() < limit {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(a, b int) bool { return kept[a].object < kept[b].object })

	out := &Samples{
		Objects:   make([]string, len(objects)),
		ObjectOf:  make([]int, len(kept)),
		Coparams:  make([]coparam.Coparam, len(kept)),
		Positions: make([]v3.Vec, len(kept)),
		Offsets:   make([]v3.Vec, len(kept)),
		Center:    center,
		Main:      -1,
	}
	for k, o := range objects {
		out.Objects[k] = o.Name
	}
	best := math.Inf(1)
	for i, s := range kept {
		out.ObjectOf[i] = s.object
		out.Coparams[i] = s.cp
		out.Positions[i] = s.pos
		out.Offsets[i] = s.offset
		if d2 := s.offset.Length2(); d2 < best {
			out.Main, best = i, d2
		}
	}
	return out, nil
}

// project finds the closest surface point to p over all objects.
func project(objects []*shape.Object, p v3.Vec) (sample, bool) {
	best := sample{object: -1}
	bestD2 := math.Inf(1)
	for k, o := range objects {
		cp, h := coparam.FromPosition(o.Index, o.Param, p, o.Inverse)
		if !h.OK() || coparam.IsNaN(cp) {
			continue
		}
		pos := o.Transform.MulPosition(h.Point)
		if d2 := pos.Sub(p).Length2(); d2 < bestD2 {
			best = sample{object: k, cp: cp, pos: pos}
			bestD2 = d2
		}
	}
	return best, best.object >= 0
}

// randomInBall returns a uniform point in the unit ball.
func randomInBall(rng *rand.Rand) v3.Vec {
	for {
		p := v3.Vec{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1}
		if p.Length2() <= 1 {
			return p
		}
	}
}

// EvalPositions maps every sample back to a world position on objects,
// matching objects by name. Samples whose object is gone, or whose coparam
// no longer lies within maxErr of the parameterization, are NaN. A maxErr
// of zero or less means coparam.DefaultMaxProjectionError.
func EvalPositions(objects []*shape.Object, s *Samples, maxErr float64) []v3.Vec {
	byName := make(map[string]*shape.Object, len(objects))
	for _, o := range objects {
		byName[o.Name] = o
	}

	out := make([]v3.Vec, s.Len())
	for k, name := range s.Objects {
		start, end := s.ByObject(k)
		if start == end {
			continue
		}
		o := byName[name]
		if o == nil {
			for i := start; i < end; i++ {
				out[i] = nanVec()
			}
			continue
		}
		copy(out[start:end], coparam.ToPosition(o.ParamIndex, o.Param, s.Coparams[start:end], o.Transform, maxErr))
	}
	return out
}

func nanVec() v3.Vec {
	n := math.NaN()
	return v3.Vec{X: n, Y: n, Z: n}
}
