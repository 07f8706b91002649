package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/graph"
	"github.com/vk/quern/internal/rule"
)

// Unit is one scheduled function invocation: a production whose outputs
// include at least one stale node. All its outputs rebuild together.
type Unit struct {
	Production rule.Production
	// Outputs are the production's nodes in the working graph.
	Outputs []*graph.Node
	// Deps are units that must complete before this one starts.
	Deps []*Unit
	// Dependents are units waiting on this one.
	Dependents []*Unit
}

// Name returns the unit's user-facing rule name.
func (u *Unit) Name() string {
	return u.Production.RuleName
}

// buildUnits selects the dirty productions, wires the unit-level dependency
// edges, and orders everything with Kahn's algorithm, declaration index
// breaking ties. A cycle among units can only come from stale indirect
// edges (declared edges were proven acyclic), so trapped units are logged
// and appended rather than failing the run.
func (a *Analysis) buildUnits(ctx context.Context, productions []rule.Production) error {
	unitByOutput := make(map[string]*Unit)
	var selected []*Unit
	for _, p := range productions {
		dirty := false
		for _, o := range p.Outputs {
			if _, ok := a.Dirty[o]; ok {
				dirty = true
				break
			}
		}
		if !dirty {
			continue
		}
		u := &Unit{Production: p}
		for _, o := range p.Outputs {
			n, ok := a.Working.Node(o)
			if !ok {
				return fmt.Errorf("internal: declared output %q missing from working graph", o)
			}
			u.Outputs = append(u.Outputs, n)
			unitByOutput[o] = u
		}
		selected = append(selected, u)
	}

	for _, u := range selected {
		seen := make(map[*Unit]bool)
		for _, n := range u.Outputs {
			for _, e := range a.Working.Incoming(n) {
				if !e.Src.IsGenerated() {
					continue
				}
				v, ok := unitByOutput[e.Src.Path]
				if !ok || v == u || seen[v] {
					continue
				}
				seen[v] = true
				u.Deps = append(u.Deps, v)
				v.Dependents = append(v.Dependents, u)
			}
		}
	}

	remaining := make(map[*Unit]int, len(selected))
	var ready []*Unit
	for _, u := range selected {
		remaining[u] = len(u.Deps)
		if len(u.Deps) == 0 {
			ready = append(ready, u)
		}
	}
	sortUnits(ready)

	ordered := make([]*Unit, 0, len(selected))
	for len(ready) > 0 {
		u := ready[0]
		ready = ready[1:]
		ordered = append(ordered, u)

		var unlocked []*Unit
		for _, v := range u.Dependents {
			remaining[v]--
			if remaining[v] == 0 {
				unlocked = append(unlocked, v)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sortUnits(ready)
		}
	}

	if len(ordered) < len(selected) {
		var leftover []*Unit
		leftoverSet := make(map[*Unit]bool)
		for _, u := range selected {
			if remaining[u] > 0 {
				leftover = append(leftover, u)
				leftoverSet[u] = true
			}
		}
		sortUnits(leftover)
		names := make([]string, len(leftover))
		for i, u := range leftover {
			names[i] = u.Name()
		}
		ctxlog.FromContext(ctx).Warn("Stale indirect edges form a cycle between invocation units; scheduling them in declaration order.", "units", names)

		// Sever the dependency edges trapped in the cycle so the trapped
		// units stay dispatchable downstream.
		for _, u := range leftover {
			kept := u.Deps[:0]
			for _, d := range u.Deps {
				if leftoverSet[d] {
					d.Dependents = removeUnit(d.Dependents, u)
					continue
				}
				kept = append(kept, d)
			}
			u.Deps = kept
		}
		ordered = append(ordered, leftover...)
	}

	a.Units = ordered
	return nil
}

func sortUnits(units []*Unit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].Production.DeclIndex < units[j].Production.DeclIndex
	})
}

func removeUnit(units []*Unit, u *Unit) []*Unit {
	out := units[:0]
	for _, v := range units {
		if v != u {
			out = append(out, v)
		}
	}
	return out
}
