package engine

import (
	"fmt"
	"strings"

	"github.com/chazu/amend/pkg/graph"
	zygo "github.com/glycerine/zygomys/zygo"
)

// sexpNodeRef carries a graph node between builtins.
type sexpNodeRef struct {
	id   graph.NodeID
	name string
}

func (n *sexpNodeRef) SexpString(ps *zygo.PrintState) string {
	if n.name != "" {
		return fmt.Sprintf("(part %q)", n.name)
	}
	return fmt.Sprintf("(node %s)", n.id.Short())
}
func (n *sexpNodeRef) Type() *zygo.RegisteredType { return nil }

type sexpVec3 struct {
	vec graph.Vec3
}

func (v *sexpVec3) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(vec3 %g %g %g)", v.vec.X, v.vec.Y, v.vec.Z)
}
func (v *sexpVec3) Type() *zygo.RegisteredType { return nil }

// isKW reports whether s is a preprocessed keyword and returns its name.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// kwArgs is an argument list split into keyword and positional arguments.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

func parseArgs(args []zygo.Sexp) kwArgs {
	pa := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			pa.positional = append(pa.positional, args[i])
			continue
		}
		if i+1 < len(args) {
			pa.kw[name] = args[i+1]
			i++
		} else {
			pa.kw[name] = zygo.SexpNull
		}
	}
	return pa
}

// float returns the keyword argument name as a number.
func (pa kwArgs) float(name string) (float64, bool, error) {
	v, ok := pa.kw[name]
	if !ok {
		return 0, false, nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", name, err)
	}
	return f, true, nil
}

// vec returns the keyword argument name as a vector.
func (pa kwArgs) vec(name string) (*graph.Vec3, error) {
	v, ok := pa.kw[name]
	if !ok {
		return nil, nil
	}
	vec, err := toVec3(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &vec, nil
}

func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %s", describe(s))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok && !strings.HasPrefix(str.S, kwPrefix) {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %s", describe(s))
}

func toNodeRef(s zygo.Sexp) (graph.NodeID, error) {
	if ref, ok := s.(*sexpNodeRef); ok {
		return ref.id, nil
	}
	return graph.ZeroID, fmt.Errorf("expected shape, got %s", describe(s))
}

func toVec3(s zygo.Sexp) (graph.Vec3, error) {
	if v, ok := s.(*sexpVec3); ok {
		return v.vec, nil
	}
	return graph.Vec3{}, fmt.Errorf("expected vec3, got %s", describe(s))
}

// toNodeRefs converts every argument to a node reference. Lists and arrays
// are flattened one level so scripts can pass computed collections.
func toNodeRefs(args []zygo.Sexp) ([]graph.NodeID, error) {
	var ids []graph.NodeID
	for i, a := range args {
		items, err := sexpListToSlice(a)
		if err != nil {
			items = []zygo.Sexp{a}
		}
		for _, item := range items {
			id, err := toNodeRef(item)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i+1, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	}
	return nil, fmt.Errorf("expected list or array, got %s", describe(s))
}

func describe(s zygo.Sexp) string {
	if name, ok := isKW(s); ok {
		return "keyword :" + name
	}
	return fmt.Sprintf("%T (%s)", s, s.SexpString(nil))
}

// builder collects the graph of one evaluation. Anonymous nodes are
// numbered in creation order, so the same script always yields the same
// node IDs.
type builder struct {
	g         *graph.Graph
	overrides map[string]float64
	counter   int
}

func newBuilder(overrides map[string]float64) *builder {
	return &builder{g: graph.New(), overrides: overrides}
}

func (b *builder) newID(kind string) graph.NodeID {
	b.counter++
	return graph.NewNodeID(fmt.Sprintf("%s/%d", kind, b.counter))
}

func (b *builder) add(kind string, nk graph.NodeKind, children []graph.NodeID, data graph.NodeData) *sexpNodeRef {
	n := &graph.Node{ID: b.newID(kind), Kind: nk, Children: children, Data: data}
	b.g.AddNode(n)
	return &sexpNodeRef{id: n.ID}
}

func (b *builder) ref(id graph.NodeID) error {
	if b.g.Get(id) == nil {
		return fmt.Errorf("unknown node %s", id.Short())
	}
	return nil
}

// unknownOverrides lists overrides that name no declared parameter.
func (b *builder) unknownOverrides() []string {
	var names []string
	for name := range b.overrides {
		if _, ok := b.g.Param(name); !ok {
			names = append(names, name)
		}
	}
	return names
}

// registerBuiltins installs the shape builtins into env. Source must go
// through preprocessSource first so keyword arguments are recognized.
func registerBuiltins(env *zygo.Zlisp, b *builder) {

	// (param "w" 20 :min 10 :max 40)
	env.AddFunction("param", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 2 {
			return zygo.SexpNull, fmt.Errorf("param requires a name and a default value")
		}
		pname, err := toString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param: name: %w", err)
		}
		def, err := toFloat64(pa.positional[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param %q: default: %w", pname, err)
		}
		decl := graph.ParamDecl{Name: pname, Value: def, Min: def, Max: def}
		if v, ok, err := pa.float("min"); err != nil {
			return zygo.SexpNull, fmt.Errorf("param %q: %w", pname, err)
		} else if ok {
			decl.Min = v
		}
		if v, ok, err := pa.float("max"); err != nil {
			return zygo.SexpNull, fmt.Errorf("param %q: %w", pname, err)
		} else if ok {
			decl.Max = v
		}
		if v, ok := b.overrides[pname]; ok {
			decl.Value = v
		}
		if err := b.g.AddParam(decl); err != nil {
			return zygo.SexpNull, fmt.Errorf("param: %w", err)
		}
		return &zygo.SexpFloat{Val: decl.Value}, nil
	})

	// (vec3 1 2 3)
	env.AddFunction("vec3", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 3 {
			return zygo.SexpNull, fmt.Errorf("vec3 requires exactly 3 arguments, got %d", len(args))
		}
		var c [3]float64
		for i, a := range args {
			f, err := toFloat64(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("vec3: %c: %w", "xyz"[i], err)
			}
			c[i] = f
		}
		return &sexpVec3{vec: graph.Vec3{X: c[0], Y: c[1], Z: c[2]}}, nil
	})

	// (box :size (vec3 10 20 30))
	env.AddFunction("box", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		size, err := pa.vec("size")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("box: %w", err)
		}
		if size == nil {
			return zygo.SexpNull, fmt.Errorf("box requires :size")
		}
		return b.add("box", graph.NodePrimitive, nil, graph.PrimitiveData{Prim: graph.PrimBox, Size: *size}), nil
	})

	// (cylinder :height 40 :radius 5)
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		pd := graph.PrimitiveData{Prim: graph.PrimCylinder}
		for _, f := range []struct {
			key string
			dst *float64
		}{{"height", &pd.Height}, {"radius", &pd.Radius}} {
			v, ok, err := pa.float(f.key)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
			}
			if !ok {
				return zygo.SexpNull, fmt.Errorf("cylinder requires :%s", f.key)
			}
			*f.dst = v
		}
		return b.add("cylinder", graph.NodePrimitive, nil, pd), nil
	})

	// (sphere :radius 5)
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		r, ok, err := pa.float("radius")
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: %w", err)
		}
		if !ok {
			return zygo.SexpNull, fmt.Errorf("sphere requires :radius")
		}
		return b.add("sphere", graph.NodePrimitive, nil, graph.PrimitiveData{Prim: graph.PrimSphere, Radius: r}), nil
	})

	// (defpart "leg" (cylinder ...))
	env.AddFunction("defpart", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("defpart requires a name and a shape")
		}
		partName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defpart: name: %w", err)
		}
		if partName == "" {
			return zygo.SexpNull, fmt.Errorf("defpart: empty name")
		}
		id, err := toNodeRef(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defpart %q: %w", partName, err)
		}
		if err := b.ref(id); err != nil {
			return zygo.SexpNull, fmt.Errorf("defpart %q: %w", partName, err)
		}
		if b.g.Lookup(partName) != nil {
			return zygo.SexpNull, fmt.Errorf("defpart: part %q already defined", partName)
		}

		// A shape that already has a name is wrapped, so both names resolve.
		if b.g.Get(id).Name != "" {
			id = b.add("part", graph.NodeGroup, []graph.NodeID{id}, graph.GroupData{}).id
		}
		if err := b.g.SetName(id, partName); err != nil {
			return zygo.SexpNull, fmt.Errorf("defpart: %w", err)
		}
		return &sexpNodeRef{id: id, name: partName}, nil
	})

	// (part "leg")
	env.AddFunction("part", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("part requires a name argument")
		}
		partName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("part: name: %w", err)
		}
		n := b.g.Lookup(partName)
		if n == nil {
			return zygo.SexpNull, fmt.Errorf("part: no part named %q", partName)
		}
		return &sexpNodeRef{id: n.ID, name: partName}, nil
	})

	// (place (part "leg") :at (vec3 0 0 10) :rotate (vec3 0 90 0))
	env.AddFunction("place", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) != 1 {
			return zygo.SexpNull, fmt.Errorf("place requires exactly one shape")
		}
		child, err := toNodeRef(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("place: %w", err)
		}
		if err := b.ref(child); err != nil {
			return zygo.SexpNull, fmt.Errorf("place: %w", err)
		}
		var td graph.TransformData
		if td.Translation, err = pa.vec("at"); err != nil {
			return zygo.SexpNull, fmt.Errorf("place: %w", err)
		}
		if td.Rotation, err = pa.vec("rotate"); err != nil {
			return zygo.SexpNull, fmt.Errorf("place: %w", err)
		}
		return b.add("place", graph.NodeTransform, []graph.NodeID{child}, td), nil
	})

	// (union a b ...), (difference a b ...), (intersection a b ...)
	for _, op := range []graph.BooleanOp{graph.OpUnion, graph.OpDifference, graph.OpIntersection} {
		env.AddFunction(op.String(), func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			ids, err := toNodeRefs(args)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
			}
			if len(ids) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s requires at least one shape", name)
			}
			for _, id := range ids {
				if err := b.ref(id); err != nil {
					return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
				}
			}
			return b.add(op.String(), graph.NodeBoolean, ids, graph.BooleanData{Op: op}), nil
		})
	}

	// (assembly "table" (place ...) (place ...))
	env.AddFunction("assembly", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("assembly requires a name argument")
		}
		asmName, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("assembly: name: %w", err)
		}
		if b.g.Lookup(asmName) != nil {
			return zygo.SexpNull, fmt.Errorf("assembly: name %q already used", asmName)
		}
		children, err := toNodeRefs(args[1:])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("assembly %q: %w", asmName, err)
		}
		for _, id := range children {
			if err := b.ref(id); err != nil {
				return zygo.SexpNull, fmt.Errorf("assembly %q: %w", asmName, err)
			}
		}

		ref := b.add("assembly", graph.NodeGroup, children, graph.GroupData{})
		if err := b.g.SetName(ref.id, asmName); err != nil {
			return zygo.SexpNull, fmt.Errorf("assembly: %w", err)
		}
		b.g.AddRoot(ref.id)
		ref.name = asmName
		return ref, nil
	})
}
