package graph

import "fmt"

// CarryIndirectFrom copies dst's remembered indirect in-edges out of a
// previous graph into g. An edge whose source is a generated file absent
// from g is dropped together with that file; an undeclared source file is
// materialized here, because edits to it must keep re-triggering dst even
// though no rule mentions it.
func (g *Graph) CarryIndirectFrom(prev *Graph, dst *Node) error {
	pn, ok := prev.Node(dst.Path)
	if !ok {
		return nil
	}
	for _, e := range prev.Incoming(pn, Indirect) {
		src, ok := g.Node(e.Src.Path)
		if !ok {
			if e.Src.IsGenerated() {
				continue
			}
			src = g.Ensure(e.Src.Path, Source, dst.DeclOrder)
		}
		if err := g.AddEdge(src, dst, dst.Fn, Indirect); err != nil {
			return fmt.Errorf("carry indirect edge %s -> %s: %w", e.Src.Path, dst.Path, err)
		}
	}
	return nil
}
