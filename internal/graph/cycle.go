package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle among declared edges. Path holds
// the node paths along the cycle, ending where it started.
type CycleError struct {
	Path []string
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// CheckAcyclic verifies that the declared (direct) edges form a DAG.
// Indirect edges are ignored here: they are remembered observations and may
// be stale, so they never make a graph invalid.
func (g *Graph) CheckAcyclic() error {
	// Classic depth-first search with three node sets:
	// permanent: fully visited, known cycle-free.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[*Node]bool)
	temporary := make(map[*Node]bool)
	var stack []*Node

	var visit func(n *Node) *CycleError
	visit = func(n *Node) *CycleError {
		if permanent[n] {
			return nil
		}
		if temporary[n] {
			// Found our own recursion stack: slice out the loop.
			cycle := []string{n.Path}
			for i := len(stack) - 1; i >= 0; i-- {
				cycle = append(cycle, stack[i].Path)
				if stack[i] == n {
					break
				}
			}
			// Reverse into traversal order.
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return &CycleError{Path: cycle}
		}

		temporary[n] = true
		stack = append(stack, n)

		for _, e := range g.Outgoing(n, Direct) {
			if cerr := visit(e.Dst); cerr != nil {
				return cerr
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, n)
		permanent[n] = true
		return nil
	}

	for _, n := range g.order {
		if !permanent[n] {
			if cerr := visit(n); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}
