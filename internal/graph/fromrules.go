package graph

import (
	"fmt"

	"github.com/vk/quern/internal/rule"
)

// FromProductions builds the declared graph: one generated node per output,
// source nodes for inputs nothing else produces, and a direct edge from
// every input to every output of each production. Two rules declaring the
// same output is an error, caught here before anything touches disk.
func FromProductions(productions []rule.Production) (*Graph, error) {
	g := New()

	// Outputs first, so a later rule's input can resolve to an earlier
	// rule's output instead of being mistaken for a source file.
	producer := make(map[string]string)
	for _, p := range productions {
		fn := g.RegisterFunction(p.Fn)
		for _, out := range p.Outputs {
			if prev, ok := producer[out]; ok {
				return nil, fmt.Errorf("duplicate output %q: declared by rule %q and rule %q", out, prev, p.RuleName)
			}
			producer[out] = p.RuleName
			n := g.Ensure(out, Generated, p.DeclIndex)
			n.Kind = Generated
			n.Fn = fn
			n.DeclOrder = p.DeclIndex
		}
	}

	for _, p := range productions {
		fn := g.RegisterFunction(p.Fn)
		for _, out := range p.Outputs {
			dst, _ := g.Node(out)
			for _, in := range p.Inputs {
				src := g.Ensure(in, Source, p.DeclIndex)
				if err := g.AddEdge(src, dst, fn, Direct); err != nil {
					return nil, fmt.Errorf("rule %q: %w", p.RuleName, err)
				}
			}
		}
	}

	return g, nil
}
