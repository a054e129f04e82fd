// Package fetch describes how the associations reached by a compiled
// statement are loaded.
package fetch

import (
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

// Strategy is the loading technique chosen for one association.
type Strategy uint8

// Fetch strategies.
const (
	// Select defers the association to a separate query.
	Select Strategy = iota
	// Join loads the association inline through a SQL join.
	Join
	// Subselect loads the association of every pending owner at once.
	Subselect
	// Batch loads the association of up to a batch size of owners at once.
	Batch
)

var strategyNames = [...]string{
	Select:    "select",
	Join:      "join",
	Subselect: "subselect",
	Batch:     "batch",
}

// String returns the strategy name.
func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "strategy(?)"
}

// Deferred reports whether the association is loaded by a later query.
func (s Strategy) Deferred() bool { return s != Join }

// FromMode maps a declared fetch mode to a strategy.
func FromMode(m metamodel.FetchMode) (Strategy, bool) {
	switch m {
	case metamodel.ModeJoin:
		return Join, true
	case metamodel.ModeSelect:
		return Select, true
	case metamodel.ModeSubselect:
		return Subselect, true
	case metamodel.ModeBatch:
		return Batch, true
	}
	return Select, false
}

// Node is the fetch decision for the association reached at Path.
type Node struct {
	Path      navpath.Path
	Attribute *metamodel.Attribute
	// Declared is the strategy the metamodel and the active profiles ask for;
	// Strategy is the one compiled. They differ when a join was downgraded.
	Declared Strategy
	Strategy Strategy
	// Depth counts the consecutive joins from the root to this node.
	Depth    int
	Children []*Node
	// KeyColumns are the owner columns needed to load a deferred association.
	KeyColumns []string
	Downgraded bool
	Parent     *Node
}

// Add appends a child node.
func (n *Node) Add(child *Node) *Node {
	child.Parent = n
	n.Children = append(n.Children, child)
	return child
}

// Graph is the fetch graph of one statement. Roots are the query roots and
// fetch-joined groups directly below them.
type Graph struct {
	Roots []*Node
	index map[navpath.Path]*Node
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[navpath.Path]*Node)}
}

// AddRoot adds a root node.
func (g *Graph) AddRoot(n *Node) *Node {
	g.Roots = append(g.Roots, n)
	g.index[n.Path] = n
	return n
}

// AddChild adds n below parent.
func (g *Graph) AddChild(parent, n *Node) *Node {
	parent.Add(n)
	g.index[n.Path] = n
	return n
}

// Lookup returns the node at path.
func (g *Graph) Lookup(path navpath.Path) (*Node, bool) {
	n, ok := g.index[path]
	return n, ok
}

// Walk visits every node depth first, parents before children. Returning
// false from fn skips the children of the node.
func (g *Graph) Walk(fn func(*Node) bool) {
	var walk func(*Node)
	walk = func(n *Node) {
		if !fn(n) {
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range g.Roots {
		walk(r)
	}
}

// MaxJoinDepth returns the length of the longest chain of consecutive join
// fetches.
func (g *Graph) MaxJoinDepth() int {
	depth := 0
	g.Walk(func(n *Node) bool {
		if n.Attribute != nil && n.Strategy == Join && n.Depth > depth {
			depth = n.Depth
		}
		return true
	})
	return depth
}

// HasCollectionJoin reports whether a collection is join fetched.
func (g *Graph) HasCollectionJoin() bool {
	found := false
	g.Walk(func(n *Node) bool {
		if n.Attribute != nil && n.Strategy == Join && n.Attribute.IsCollection() {
			found = true
		}
		return !found
	})
	return found
}

// Deferred returns the nodes loaded by later queries.
func (g *Graph) Deferred() []*Node {
	var out []*Node
	g.Walk(func(n *Node) bool {
		if n.Attribute != nil && n.Strategy.Deferred() {
			out = append(out, n)
		}
		return true
	})
	return out
}
