package accel

import (
	"github.com/chazu/amend/pkg/mesh"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Linear tests every triangle for every query. It is the reference the
// other backends are checked against.
type Linear struct {
	m   *mesh.Buffer
	tol tolerance
}

// NewLinear returns an exhaustive-scan index over m.
func NewLinear(m *mesh.Buffer) *Linear {
	return &Linear{m: m, tol: newTolerance(m)}
}

// Nearest implements Index.
func (l *Linear) Nearest(p v3.Vec) Hit {
	p = queryPoint(l.m, p)
	if !finite(p) {
		return Miss()
	}
	n := newNearest(l.tol)
	for t := 0; t < l.m.TriangleCount(); t++ {
		n.offer(project(l.m, t, p))
	}
	return n.best()
}

// Mesh implements Index.
func (l *Linear) Mesh() *mesh.Buffer { return l.m }

// Backend implements Index.
func (l *Linear) Backend() Backend { return BackendLinear }
