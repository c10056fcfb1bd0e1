package graph

import "fmt"

// Graph is the data structure produced by evaluating a shape script.
// Each evaluation produces a new graph; it is not mutated afterwards.
type Graph struct {
	Nodes     map[NodeID]*Node  `json:"nodes"`
	Order     []NodeID          `json:"order"` // insertion order
	Roots     []NodeID          `json:"roots"`
	NameIndex map[string]NodeID `json:"name_index"`
	Params    []ParamDecl       `json:"params,omitempty"`
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		Nodes:     make(map[NodeID]*Node),
		NameIndex: make(map[string]NodeID),
	}
}

// AddNode adds a node to the graph. It does not check for duplicates.
func (g *Graph) AddNode(n *Node) {
	if _, ok := g.Nodes[n.ID]; !ok {
		g.Order = append(g.Order, n.ID)
	}
	g.Nodes[n.ID] = n
	if n.Name != "" {
		g.NameIndex[n.Name] = n.ID
	}
}

// SetName names an existing node and indexes it.
func (g *Graph) SetName(id NodeID, name string) error {
	n := g.Nodes[id]
	if n == nil {
		return fmt.Errorf("graph: no node %s", id.Short())
	}
	if other, ok := g.NameIndex[name]; ok && other != id {
		return fmt.Errorf("graph: name %q already used", name)
	}
	if n.Name != "" {
		delete(g.NameIndex, n.Name)
	}
	n.Name = name
	g.NameIndex[name] = id
	return nil
}

// AddRoot registers a node ID as a root of the graph.
func (g *Graph) AddRoot(id NodeID) {
	g.Roots = append(g.Roots, id)
}

// AddParam declares a hyperparameter. Names must be unique.
func (g *Graph) AddParam(p ParamDecl) error {
	if _, ok := g.Param(p.Name); ok {
		return fmt.Errorf("graph: parameter %q declared twice", p.Name)
	}
	g.Params = append(g.Params, p)
	return nil
}

// Param returns the declared hyperparameter with the given name.
func (g *Graph) Param(name string) (ParamDecl, bool) {
	for _, p := range g.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDecl{}, false
}

// Lookup returns the node with the given user-assigned name, or nil.
func (g *Graph) Lookup(name string) *Node {
	id, ok := g.NameIndex[name]
	if !ok {
		return nil
	}
	return g.Nodes[id]
}

// Get returns the node with the given ID, or nil.
func (g *Graph) Get(id NodeID) *Node {
	return g.Nodes[id]
}

// Children returns the child nodes of the given node.
func (g *Graph) Children(n *Node) []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		if c := g.Nodes[cid]; c != nil {
			children = append(children, c)
		}
	}
	return children
}

// Primitives returns all primitive nodes in insertion order.
func (g *Graph) Primitives() []*Node {
	var prims []*Node
	for _, id := range g.Order {
		if n := g.Nodes[id]; n != nil && n.Kind == NodePrimitive {
			prims = append(prims, n)
		}
	}
	return prims
}

// DefaultRoots makes every node that no other node references a root, in
// insertion order. It does nothing when roots were already declared.
func (g *Graph) DefaultRoots() {
	if len(g.Roots) > 0 {
		return
	}
	referenced := make(map[NodeID]bool)
	for _, n := range g.Nodes {
		for _, c := range n.Children {
			referenced[c] = true
		}
	}
	for _, id := range g.Order {
		if !referenced[id] {
			g.AddRoot(id)
		}
	}
}

// NodeCount returns the total number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}
