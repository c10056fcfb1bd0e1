package graph

import (
	"fmt"
	"math"
)

// ValidationSeverity indicates whether a validation finding blocks evaluation
// or is merely informational.
type ValidationSeverity int

const (
	SeverityError   ValidationSeverity = iota // blocks evaluation
	SeverityWarning                           // informational
)

func (s ValidationSeverity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("ValidationSeverity(%d)", int(s))
	}
}

// ValidationError describes a single validation finding.
type ValidationError struct {
	NodeID   NodeID             // which node has the problem (zero if graph-level)
	Message  string             // human-readable description
	Severity ValidationSeverity // error or warning
}

func (e ValidationError) Error() string {
	if e.NodeID.IsZero() {
		return fmt.Sprintf("[%s] %s", e.Severity, e.Message)
	}
	return fmt.Sprintf("[%s] node %s: %s", e.Severity, e.NodeID.Short(), e.Message)
}

// Validate runs every check on the shape graph and returns the findings.
// An empty slice means the graph is valid. Validate never mutates the graph.
func Validate(g *Graph) []ValidationError {
	var errs []ValidationError
	errs = append(errs, validateDAG(g)...)
	errs = append(errs, validateReferences(g)...)
	errs = append(errs, validateNames(g)...)
	errs = append(errs, validateRoots(g)...)
	errs = append(errs, validateStructure(g)...)
	errs = append(errs, validateDimensions(g)...)
	errs = append(errs, validateParams(g)...)
	return errs
}

// Errors returns only the blocking findings.
func Errors(findings []ValidationError) []ValidationError {
	var errs []ValidationError
	for _, f := range findings {
		if f.Severity == SeverityError {
			errs = append(errs, f)
		}
	}
	return errs
}

// validateDAG checks for cycles using DFS with 3-color marking.
// White (0) = unvisited, gray (1) = in current DFS path, black (2) = fully explored.
// If we encounter a gray node during traversal, we have found a cycle.
func validateDAG(g *Graph) []ValidationError {
	const (
		white = iota
		gray
		black
	)

	color := make(map[NodeID]int) // default zero = white
	var errs []ValidationError

	var visit func(id NodeID) bool // returns true if cycle found
	visit = func(id NodeID) bool {
		switch color[id] {
		case black:
			return false
		case gray:
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("cycle detected: node %s is part of a cycle", id.Short()),
				Severity: SeverityError,
			})
			return true
		}

		color[id] = gray

		node, ok := g.Nodes[id]
		if !ok {
			// Dangling reference; handled by validateReferences.
			color[id] = black
			return false
		}

		// Walk Children edges.
		for _, childID := range node.Children {
			if visit(childID) {
				return true
			}
		}

		color[id] = black
		return false
	}

	// Start DFS from every node to catch disconnected components.
	for id := range g.Nodes {
		if color[id] == white {
			if visit(id) {
				// One cycle error is sufficient; stop early.
				break
			}
		}
	}

	return errs
}

// validateReferences checks that every NodeID referenced anywhere in the graph
// points to a node that actually exists in g.Nodes.
func validateReferences(g *Graph) []ValidationError {
	var errs []ValidationError

	for _, node := range g.Nodes {
		// Check Children references.
		for _, childID := range node.Children {
			if _, ok := g.Nodes[childID]; !ok {
				errs = append(errs, ValidationError{
					NodeID:   node.ID,
					Message:  fmt.Sprintf("child reference %s does not exist", childID.Short()),
					Severity: SeverityError,
				})
			}
		}
	}

	return errs
}

// validateNames checks that the NameIndex is injective (no two nodes share the
// same name) and that every entry in NameIndex points to an existing node.
func validateNames(g *Graph) []ValidationError {
	var errs []ValidationError

	// Check that every NameIndex entry references an existing node.
	for name, id := range g.NameIndex {
		if _, ok := g.Nodes[id]; !ok {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("name index entry %q references non-existent node %s", name, id.Short()),
				Severity: SeverityError,
			})
		}
	}

	// Check injectivity: build a reverse map from NodeID to name, looking at
	// actual node Name fields. If two nodes share the same non-empty Name, error.
	nameToNodes := make(map[string][]NodeID)
	for id, node := range g.Nodes {
		if node.Name != "" {
			nameToNodes[node.Name] = append(nameToNodes[node.Name], id)
		}
	}
	for name, ids := range nameToNodes {
		if len(ids) > 1 {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("duplicate name %q assigned to %d nodes", name, len(ids)),
				Severity: SeverityError,
			})
		}
	}

	return errs
}

// validateRoots checks that every root ID references an existing node and
// warns about orphan nodes (nodes unreachable from any root).
func validateRoots(g *Graph) []ValidationError {
	var errs []ValidationError

	// Check that each root references an existing node.
	for _, rid := range g.Roots {
		if _, ok := g.Nodes[rid]; !ok {
			errs = append(errs, ValidationError{
				Message:  fmt.Sprintf("root reference %s does not exist", rid.Short()),
				Severity: SeverityError,
			})
		}
	}

	// Orphan detection: BFS from all roots through Children edges.
	if len(g.Nodes) == 0 {
		return errs
	}

	reachable := make(map[NodeID]bool)
	queue := make([]NodeID, 0, len(g.Roots))
	for _, rid := range g.Roots {
		if _, ok := g.Nodes[rid]; ok {
			if !reachable[rid] {
				reachable[rid] = true
				queue = append(queue, rid)
			}
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.Nodes[current]
		if node == nil {
			continue
		}

		// Traverse Children edges.
		for _, childID := range node.Children {
			if !reachable[childID] {
				reachable[childID] = true
				queue = append(queue, childID)
			}
		}
	}

	// Report any unreachable nodes as warnings.
	for id, node := range g.Nodes {
		if !reachable[id] {
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("node %q is not reachable from any root (orphan)", node.Label()),
				Severity: SeverityWarning,
			})
		}
	}

	return errs
}

// validateStructure checks that each node carries the payload for its kind
// and has a child count the kind allows.
func validateStructure(g *Graph) []ValidationError {
	var errs []ValidationError
	fail := func(n *Node, format string, args ...any) {
		errs = append(errs, ValidationError{
			NodeID:   n.ID,
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
		})
	}

	for _, id := range g.Order {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		switch n.Kind {
		case NodePrimitive:
			if _, ok := n.Data.(PrimitiveData); !ok {
				fail(n, "primitive has %T data", n.Data)
			}
			if len(n.Children) != 0 {
				fail(n, "primitive has %d children", len(n.Children))
			}
		case NodeTransform:
			if _, ok := n.Data.(TransformData); !ok {
				fail(n, "transform has %T data", n.Data)
			}
			if len(n.Children) != 1 {
				fail(n, "transform needs exactly one child, has %d", len(n.Children))
			}
		case NodeGroup:
			if _, ok := n.Data.(GroupData); !ok {
				fail(n, "group has %T data", n.Data)
			}
			if len(n.Children) == 0 {
				errs = append(errs, ValidationError{
					NodeID:   n.ID,
					Message:  fmt.Sprintf("group %q is empty", n.Label()),
					Severity: SeverityWarning,
				})
			}
		case NodeBoolean:
			d, ok := n.Data.(BooleanData)
			if !ok {
				fail(n, "boolean has %T data", n.Data)
				break
			}
			if len(n.Children) == 0 {
				fail(n, "%s has no operands", d.Op)
			}
		default:
			fail(n, "unknown node kind %d", int(n.Kind))
		}
	}
	return errs
}

// validateDimensions checks that primitive sizes are positive and finite.
func validateDimensions(g *Graph) []ValidationError {
	var errs []ValidationError
	check := func(n *Node, what string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, ValidationError{
				NodeID:   n.ID,
				Message:  fmt.Sprintf("%s %q has %s %g, must be positive", n.Data.(PrimitiveData).Prim, n.Label(), what, v),
				Severity: SeverityError,
			})
		}
	}

	for _, n := range g.Primitives() {
		d, ok := n.Data.(PrimitiveData)
		if !ok {
			continue
		}
		switch d.Prim {
		case PrimBox:
			check(n, "size.x", d.Size.X)
			check(n, "size.y", d.Size.Y)
			check(n, "size.z", d.Size.Z)
		case PrimCylinder:
			check(n, "height", d.Height)
			check(n, "radius", d.Radius)
		case PrimSphere:
			check(n, "radius", d.Radius)
		default:
			errs = append(errs, ValidationError{
				NodeID:   n.ID,
				Message:  fmt.Sprintf("unknown primitive %s", d.Prim),
				Severity: SeverityError,
			})
		}
	}
	return errs
}

// validateParams checks hyperparameter declarations: a name, finite
// values, a non-empty range and a value inside it.
func validateParams(g *Graph) []ValidationError {
	var errs []ValidationError
	fail := func(format string, args ...any) {
		errs = append(errs, ValidationError{
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
		})
	}

	seen := make(map[string]bool)
	for _, p := range g.Params {
		if p.Name == "" {
			fail("parameter with empty name")
			continue
		}
		if seen[p.Name] {
			fail("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true

		if !finite(p.Value) || !finite(p.Min) || !finite(p.Max) {
			fail("parameter %q has non-finite bounds or value", p.Name)
			continue
		}
		if p.Min > p.Max {
			fail("parameter %q has min %g above max %g", p.Name, p.Min, p.Max)
			continue
		}
		if p.Value < p.Min || p.Value > p.Max {
			fail("parameter %q value %g outside [%g, %g]", p.Name, p.Value, p.Min, p.Max)
		}
	}
	return errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
