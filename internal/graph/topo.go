package graph

import (
	"context"
	"sort"

	"github.com/vk/quern/internal/ctxlog"
)

// TopoOrder returns the nodes in dependency order over the given edge
// kinds, with (declaration order, path) breaking ties so the result is
// reproducible. Remembered indirect edges can form cycles with current
// declarations; any nodes trapped that way are logged and appended in
// declaration order rather than failing the run, since CheckAcyclic has
// already vouched for the declared edges.
func (g *Graph) TopoOrder(ctx context.Context, kinds ...EdgeKind) []*Node {
	indegree := make(map[*Node]int, len(g.nodes))
	for _, n := range g.order {
		indegree[n] = len(g.Incoming(n, kinds...))
	}

	var ready []*Node
	for _, n := range g.order {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sortNodes(ready)

	out := make([]*Node, 0, len(g.order))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		var unlocked []*Node
		for _, e := range g.Outgoing(n, kinds...) {
			indegree[e.Dst]--
			if indegree[e.Dst] == 0 {
				unlocked = append(unlocked, e.Dst)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sortNodes(ready)
		}
	}

	if len(out) < len(g.order) {
		var leftover []*Node
		for _, n := range g.order {
			if indegree[n] > 0 {
				leftover = append(leftover, n)
			}
		}
		sortNodes(leftover)
		paths := make([]string, len(leftover))
		for i, n := range leftover {
			paths[i] = n.Path
		}
		ctxlog.FromContext(ctx).Warn("Stale indirect edges form a cycle; appending affected nodes in declaration order.", "nodes", paths)
		out = append(out, leftover...)
	}

	return out
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].DeclOrder != nodes[j].DeclOrder {
			return nodes[i].DeclOrder < nodes[j].DeclOrder
		}
		return nodes[i].Path < nodes[j].Path
	})
}
