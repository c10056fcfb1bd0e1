// Package tessellate walks a shape graph and meshes it with a geometry
// kernel. Every primitive outside a boolean, and every outermost boolean,
// becomes one part: a mesh in the part's local space plus the transform
// that places it in the world.
package tessellate

import (
	"fmt"
	"math"

	"github.com/chazu/amend/pkg/graph"
	"github.com/chazu/amend/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Part is one tessellated object.
type Part struct {
	Name      string
	Node      graph.NodeID
	Mesh      *kernel.Mesh // local space
	Transform sdf.M44      // local to world
}

// Placement returns the matrix of a transform node: rotation about X, then
// Y, then Z (degrees), followed by the translation.
func Placement(td graph.TransformData) sdf.M44 {
	m := sdf.Identity3d()
	if r := td.Rotation; r != nil && !r.IsZero() {
		m = sdf.RotateZ(sdf.DtoR(r.Z)).Mul(sdf.RotateY(sdf.DtoR(r.Y))).Mul(sdf.RotateX(sdf.DtoR(r.X)))
	}
	if t := td.Translation; t != nil && !t.IsZero() {
		m = sdf.Translate3d(v3.Vec{X: t.X, Y: t.Y, Z: t.Z}).Mul(m)
	}
	return m
}

type walker struct {
	g        *graph.Graph
	k        kernel.Kernel
	parts    []Part
	names    map[string]int
	visiting map[graph.NodeID]bool
}

// Tessellate meshes every root of g in order. The graph is not modified.
// Parts that share a name are suffixed "#2", "#3" and so on.
func Tessellate(g *graph.Graph, k kernel.Kernel) ([]Part, error) {
	if g == nil {
		return nil, nil
	}
	w := &walker{
		g:        g,
		k:        k,
		names:    make(map[string]int),
		visiting: make(map[graph.NodeID]bool),
	}
	for _, rootID := range g.Roots {
		root := g.Get(rootID)
		if root == nil {
			return nil, fmt.Errorf("tessellate: unknown root %s", rootID.Short())
		}
		if err := w.walk(root, sdf.Identity3d(), ""); err != nil {
			return nil, fmt.Errorf("tessellate: root %s: %w", root.Label(), err)
		}
	}
	return w.parts, nil
}

func (w *walker) enter(n *graph.Node) error {
	if w.visiting[n.ID] {
		return fmt.Errorf("cycle through %s", n.Label())
	}
	w.visiting[n.ID] = true
	return nil
}

func (w *walker) leave(n *graph.Node) {
	delete(w.visiting, n.ID)
}

// walk emits the parts below n. name is the nearest name seen so far.
func (w *walker) walk(n *graph.Node, m sdf.M44, name string) error {
	if n.Name != "" {
		name = n.Name
	}
	if n.Kind == graph.NodePrimitive || n.Kind == graph.NodeBoolean {
		s, err := w.solid(n)
		if err != nil {
			return err
		}
		return w.emit(n, s, m, name)
	}

	if err := w.enter(n); err != nil {
		return err
	}
	defer w.leave(n)

	switch n.Kind {
	case graph.NodeTransform:
		td, ok := n.Data.(graph.TransformData)
		if !ok {
			return fmt.Errorf("transform %s has %T data", n.Label(), n.Data)
		}
		if len(n.Children) != 1 {
			return fmt.Errorf("transform %s has %d children", n.Label(), len(n.Children))
		}
		child, err := w.child(n, 0)
		if err != nil {
			return err
		}
		return w.walk(child, m.Mul(Placement(td)), name)

	case graph.NodeGroup:
		for i := range n.Children {
			child, err := w.child(n, i)
			if err != nil {
				return err
			}
			if err := w.walk(child, m, name); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown node kind: %v", n.Kind)
	}
}

func (w *walker) child(n *graph.Node, i int) (*graph.Node, error) {
	c := w.g.Get(n.Children[i])
	if c == nil {
		return nil, fmt.Errorf("%s references unknown node %s", n.Label(), n.Children[i].Short())
	}
	return c, nil
}

func (w *walker) emit(n *graph.Node, s kernel.Solid, m sdf.M44, name string) error {
	if name == "" {
		name = n.ID.Short()
	}
	w.names[name]++
	if c := w.names[name]; c > 1 {
		name = fmt.Sprintf("%s#%d", name, c)
	}

	mesh, err := w.k.ToMesh(s)
	if err != nil {
		return fmt.Errorf("mesh %s: %w", name, err)
	}
	mesh.PartName = name
	w.parts = append(w.parts, Part{Name: name, Node: n.ID, Mesh: mesh, Transform: m})
	return nil
}

// solid builds the kernel solid of the subtree at n in n's own frame.
// Transforms below n are applied by the kernel.
func (w *walker) solid(n *graph.Node) (kernel.Solid, error) {
	if err := w.enter(n); err != nil {
		return nil, err
	}
	defer w.leave(n)

	if n.Kind == graph.NodePrimitive {
		return w.primitive(n)
	}

	var operands []kernel.Solid
	for i := range n.Children {
		child, err := w.child(n, i)
		if err != nil {
			return nil, err
		}
		s, err := w.solid(child)
		if err != nil {
			return nil, err
		}
		operands = append(operands, s)
	}
	if len(operands) == 0 {
		return nil, fmt.Errorf("%s %s has no geometry", n.Kind, n.Label())
	}

	switch n.Kind {
	case graph.NodeTransform:
		td, ok := n.Data.(graph.TransformData)
		if !ok || len(operands) != 1 {
			return nil, fmt.Errorf("malformed transform %s", n.Label())
		}
		s := operands[0]
		if r := td.Rotation; r != nil && !r.IsZero() {
			s = w.k.Rotate(s, r.X, r.Y, r.Z)
		}
		if t := td.Translation; t != nil && !t.IsZero() {
			s = w.k.Translate(s, t.X, t.Y, t.Z)
		}
		return s, nil

	case graph.NodeGroup:
		return w.fold(operands, w.k.Union), nil

	case graph.NodeBoolean:
		bd, ok := n.Data.(graph.BooleanData)
		if !ok {
			return nil, fmt.Errorf("boolean %s has %T data", n.Label(), n.Data)
		}
		switch bd.Op {
		case graph.OpUnion:
			return w.fold(operands, w.k.Union), nil
		case graph.OpDifference:
			return w.fold(operands, w.k.Difference), nil
		case graph.OpIntersection:
			return w.fold(operands, w.k.Intersection), nil
		}
		return nil, fmt.Errorf("boolean %s: unknown operation %s", n.Label(), bd.Op)
	}
	return nil, fmt.Errorf("unknown node kind: %v", n.Kind)
}

// fold combines operands left to right, so a difference subtracts every
// later operand from the first.
func (w *walker) fold(operands []kernel.Solid, op func(a, b kernel.Solid) kernel.Solid) kernel.Solid {
	s := operands[0]
	for _, o := range operands[1:] {
		s = op(s, o)
	}
	return s
}

// primitive builds a primitive solid, rejecting dimensions the kernel
// cannot represent.
func (w *walker) primitive(n *graph.Node) (kernel.Solid, error) {
	pd, ok := n.Data.(graph.PrimitiveData)
	if !ok {
		return nil, fmt.Errorf("primitive %s has unsupported data type %T", n.Label(), n.Data)
	}
	check := func(what string, v float64) error {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s %s: %s %g must be positive", pd.Prim, n.Label(), what, v)
		}
		return nil
	}

	switch pd.Prim {
	case graph.PrimBox:
		for _, c := range []struct {
			what string
			v    float64
		}{{"size.x", pd.Size.X}, {"size.y", pd.Size.Y}, {"size.z", pd.Size.Z}} {
			if err := check(c.what, c.v); err != nil {
				return nil, err
			}
		}
		return w.k.Box(pd.Size.X, pd.Size.Y, pd.Size.Z), nil

	case graph.PrimCylinder:
		if err := check("height", pd.Height); err != nil {
			return nil, err
		}
		if err := check("radius", pd.Radius); err != nil {
			return nil, err
		}
		return w.k.Cylinder(pd.Height, pd.Radius, 32), nil

	case graph.PrimSphere:
		if err := check("radius", pd.Radius); err != nil {
			return nil, err
		}
		return w.k.Sphere(pd.Radius), nil
	}
	return nil, fmt.Errorf("primitive %s: unknown kind %s", n.Label(), pd.Prim)
}
