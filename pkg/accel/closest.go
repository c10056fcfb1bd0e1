package accel

import (
	"math"

	v3 "github.com/deadsy/sdfx/vec/v3"
)

// degenerateSin2 is the squared sine of the smallest corner angle below
// which a triangle is treated as a segment or a point.
const degenerateSin2 = 1e-20

// ClosestPoint returns the point of triangle abc closest to p, and its
// barycentric coordinates with respect to (a, b, c). The Voronoi region of
// p (vertex, edge or face) is found from edge dot products, so only the
// face region needs a division by the triangle area.
//
// Zero area triangles fall back to the closest point on their three edges,
// so the result is finite for any finite input.
func ClosestPoint(p, a, b, c v3.Vec) (v3.Vec, [3]float64) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	if isDegenerate(ab, ac) {
		return closestOnEdges(p, a, b, c)
	}

	ap := p.Sub(a)
	d1 := ab.Dot(ap)
	d2 := ac.Dot(ap)
	if d1 <= 0 && d2 <= 0 {
		return a, [3]float64{1, 0, 0}
	}

	bp := p.Sub(b)
	d3 := ab.Dot(bp)
	d4 := ac.Dot(bp)
	if d3 >= 0 && d4 <= d3 {
		return b, [3]float64{0, 1, 0}
	}

	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return a.Add(ab.MulScalar(v)), [3]float64{1 - v, v, 0}
	}

	cp := p.Sub(c)
	d5 := ab.Dot(cp)
	d6 := ac.Dot(cp)
	if d6 >= 0 && d5 <= d6 {
		return c, [3]float64{0, 0, 1}
	}

	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return a.Add(ac.MulScalar(w)), [3]float64{1 - w, 0, w}
	}

	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).MulScalar(w)), [3]float64{0, 1 - w, w}
	}

	denom := 1 / (va + vb + vc)
	bary := normalizeBary([3]float64{va * denom, vb * denom, vc * denom})
	return combine(a, b, c, bary), bary
}

// isDegenerate reports whether the triangle spanned by edges ab and ac has
// (numerically) zero area.
func isDegenerate(ab, ac v3.Vec) bool {
	n2 := ab.Cross(ac).Length2()
	return n2 <= degenerateSin2*ab.Length2()*ac.Length2()
}

// closestOnEdges handles zero area triangles: the closest point over the
// three edges, ties going to the earlier edge.
func closestOnEdges(p, a, b, c v3.Vec) (v3.Vec, [3]float64) {
	corners := [3]v3.Vec{a, b, c}
	var best v3.Vec
	var bestBary [3]float64
	bestD2 := math.Inf(1)
	for i := 0; i < 3; i++ {
		j := (i + 1) % 3
		q, t := closestOnSegment(p, corners[i], corners[j])
		d2 := q.Sub(p).Length2()
		if d2 < bestD2 {
			bestD2 = d2
			best = q
			bestBary = [3]float64{}
			bestBary[i] = 1 - t
			bestBary[j] += t
		}
	}
	return best, bestBary
}

// closestOnSegment returns the point of segment s0-s1 closest to p and its
// parameter t in [0,1]. A zero length segment yields s0.
func closestOnSegment(p, s0, s1 v3.Vec) (v3.Vec, float64) {
	d := s1.Sub(s0)
	l2 := d.Length2()
	if l2 == 0 {
		return s0, 0
	}
	t := d.Dot(p.Sub(s0)) / l2
	t = math.Max(0, math.Min(1, t))
	return s0.Add(d.MulScalar(t)), t
}

// normalizeBary clamps rounding noise below zero and rescales to sum 1.
func normalizeBary(b [3]float64) [3]float64 {
	sum := 0.0
	for i := range b {
		if b[i] < 0 {
			b[i] = 0
		}
		sum += b[i]
	}
	for i := range b {
		b[i] /= sum
	}
	return b
}

func combine(a, b, c v3.Vec, bary [3]float64) v3.Vec {
	return a.MulScalar(bary[0]).Add(b.MulScalar(bary[1])).Add(c.MulScalar(bary[2]))
}
