package graph

import (
	"fmt"
	"sort"

	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/rule"
)

// NodeKind distinguishes files that exist on their own from files a build
// function produces.
type NodeKind int

const (
	// Source nodes are read but never written by the build.
	Source NodeKind = iota
	// Generated nodes are produced by exactly one function.
	Generated
)

// String implements fmt.Stringer for NodeKind.
func (k NodeKind) String() string {
	if k == Generated {
		return "generated"
	}
	return "source"
}

// EdgeKind distinguishes declared dependencies from discovered ones.
type EdgeKind int

const (
	// Direct edges are declared in rule files.
	Direct EdgeKind = iota
	// Indirect edges were observed at execution time and are remembered
	// across runs until the consuming node is rebuilt.
	Indirect
)

// String implements fmt.Stringer for EdgeKind.
func (k EdgeKind) String() string {
	if k == Indirect {
		return "indirect"
	}
	return "direct"
}

// Node is a single file in the graph.
type Node struct {
	Path string
	Kind NodeKind

	// Fingerprint is the recorded content digest. Empty means unknown,
	// which always reads as stale.
	Fingerprint fingerprint.Digest

	// Fn is the producing function for generated nodes, nil for sources.
	Fn *rule.Function

	// DeclOrder is the declaration index of the rule that introduced this
	// node. It is the tie-break for every ordering decision.
	DeclOrder int

	in  []*Edge
	out []*Edge
}

// IsGenerated reports whether the node is produced by a function.
func (n *Node) IsGenerated() bool {
	return n.Kind == Generated
}

// Edge is a directed dependency: Dst is built (in part) from Src by Fn.
type Edge struct {
	Src, Dst *Node
	Fn       *rule.Function
	Kind     EdgeKind
}

// Graph is the store for nodes, functions, and edges.
type Graph struct {
	nodes map[string]*Node
	order []*Node
	funcs map[fingerprint.Digest]*rule.Function
}

// New returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		funcs: make(map[fingerprint.Digest]*rule.Function),
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node looks a node up by path.
func (g *Graph) Node(path string) (*Node, bool) {
	n, ok := g.nodes[path]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	copy(out, g.order)
	return out
}

// NodesByPath returns all nodes sorted by path. Snapshot encoding and test
// assertions rely on this order being total and stable.
func (g *Graph) NodesByPath() []*Node {
	out := g.Nodes()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Ensure returns the node for path, creating it with the given kind and
// declaration order if absent. An existing node is never demoted from
// Generated back to Source.
func (g *Graph) Ensure(path string, kind NodeKind, declOrder int) *Node {
	if n, ok := g.nodes[path]; ok {
		return n
	}
	n := &Node{Path: path, Kind: kind, DeclOrder: declOrder}
	g.nodes[path] = n
	g.order = append(g.order, n)
	return n
}

// RegisterFunction interns a function by digest and returns the canonical
// instance. A runnable registration replaces a placeholder with the same
// digest so snapshot identities pick up their implementations.
func (g *Graph) RegisterFunction(fn *rule.Function) *rule.Function {
	if existing, ok := g.funcs[fn.Digest]; ok {
		if existing.Runnable() || !fn.Runnable() {
			return existing
		}
	}
	g.funcs[fn.Digest] = fn
	return fn
}

// Function looks a function up by digest.
func (g *Graph) Function(d fingerprint.Digest) (*rule.Function, bool) {
	fn, ok := g.funcs[d]
	return fn, ok
}

// Functions returns all registered functions sorted by digest.
func (g *Graph) Functions() []*rule.Function {
	out := make([]*rule.Function, 0, len(g.funcs))
	for _, fn := range g.funcs {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Digest < out[j].Digest })
	return out
}

// AddEdge records that dst is built from src by fn. Self-edges are
// rejected; an identical edge is recorded once.
func (g *Graph) AddEdge(src, dst *Node, fn *rule.Function, kind EdgeKind) error {
	if src == nil || dst == nil {
		return fmt.Errorf("edge endpoints must exist")
	}
	if src.Path == dst.Path {
		return fmt.Errorf("self-referential edge not allowed: %s", src.Path)
	}
	for _, e := range dst.in {
		if e.Src == src && e.Kind == kind && sameFunction(e.Fn, fn) {
			return nil
		}
	}
	e := &Edge{Src: src, Dst: dst, Fn: fn, Kind: kind}
	src.out = append(src.out, e)
	dst.in = append(dst.in, e)
	return nil
}

// Incoming returns the edges into n, optionally filtered by kind.
func (g *Graph) Incoming(n *Node, kinds ...EdgeKind) []*Edge {
	return filterEdges(n.in, kinds)
}

// Outgoing returns the edges out of n, optionally filtered by kind.
func (g *Graph) Outgoing(n *Node, kinds ...EdgeKind) []*Edge {
	return filterEdges(n.out, kinds)
}

// DropIndirectIn removes all indirect in-edges of n. Used when a rebuild
// replaces remembered discoveries with fresh observations.
func (g *Graph) DropIndirectIn(n *Node) {
	var keptIn []*Edge
	for _, e := range n.in {
		if e.Kind == Indirect {
			removeOut(e.Src, e)
			continue
		}
		keptIn = append(keptIn, e)
	}
	n.in = keptIn
}

func removeOut(src *Node, edge *Edge) {
	for i, e := range src.out {
		if e == edge {
			src.out = append(src.out[:i], src.out[i+1:]...)
			return
		}
	}
}

func filterEdges(edges []*Edge, kinds []EdgeKind) []*Edge {
	if len(kinds) == 0 {
		out := make([]*Edge, len(edges))
		copy(out, edges)
		return out
	}
	var out []*Edge
	for _, e := range edges {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func sameFunction(a, b *rule.Function) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Digest == b.Digest
}

// Equal reports whether two graphs describe the same nodes, recorded
// digests, producers, and edge sets. Edge insertion order is ignored.
func (g *Graph) Equal(other *Graph) bool {
	if g.Len() != other.Len() {
		return false
	}
	for path, n := range g.nodes {
		o, ok := other.nodes[path]
		if !ok || n.Kind != o.Kind || n.Fingerprint != o.Fingerprint || !sameFunction(n.Fn, o.Fn) {
			return false
		}
		if !sameEdgeSet(n.in, o.in) {
			return false
		}
	}
	return true
}

func sameEdgeSet(a, b []*Edge) bool {
	if len(a) != len(b) {
		return false
	}
	keys := func(edges []*Edge) []string {
		out := make([]string, len(edges))
		for i, e := range edges {
			var fd fingerprint.Digest
			if e.Fn != nil {
				fd = e.Fn.Digest
			}
			out[i] = fmt.Sprintf("%s\x00%s\x00%s\x00%s", e.Src.Path, e.Dst.Path, fd, e.Kind)
		}
		sort.Strings(out)
		return out
	}
	ka, kb := keys(a), keys(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}
