package resolve

import (
	"context"
	"errors"
	"io/fs"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/graph"
	"github.com/vk/quern/internal/rule"
)

// Fingerprinter supplies live content digests. *fingerprint.Service
// satisfies it; tests inject fixed maps instead of touching a filesystem.
type Fingerprinter interface {
	File(ctx context.Context, path string) (fingerprint.Digest, error)
}

// Analysis is the outcome of staleness resolution for one run.
type Analysis struct {
	// Declared is the graph built from the current rules alone.
	Declared *graph.Graph
	// Working is Declared plus the indirect edges carried over from the
	// previous snapshot, including any undeclared source files they
	// reference. Execution ordering and propagation both use it.
	Working *graph.Graph
	// Dirty maps node path to the verdict that scheduled it.
	Dirty map[string]Mark
	// SourceDigests holds the live fingerprint of every source file in
	// Working, taken before execution. Missing files record the empty
	// digest.
	SourceDigests map[string]fingerprint.Digest
	// SourceErrors holds fingerprinting failures other than absence.
	SourceErrors map[string]error
	// Units is the rebuild plan in execution order.
	Units []*Unit
}

// Analyze computes the dirty set and rebuild plan. It validates the
// declared rules first and returns *graph.CycleError before anything is
// fingerprinted when the declarations loop.
func Analyze(ctx context.Context, prev *graph.Graph, productions []rule.Production, fp Fingerprinter, parallelism int) (*Analysis, error) {
	logger := ctxlog.FromContext(ctx)
	if parallelism < 1 {
		parallelism = 1
	}

	declared, err := graph.FromProductions(productions)
	if err != nil {
		return nil, err
	}
	if err := declared.CheckAcyclic(); err != nil {
		return nil, err
	}

	working := cloneDeclared(declared)

	// Classify every generated node against the snapshot. Nodes whose
	// declaration is unchanged inherit their remembered indirect edges;
	// the rest will rediscover theirs when they run.
	declarationMarks := make(map[string]Mark)
	for _, n := range working.Nodes() {
		if !n.IsGenerated() {
			continue
		}
		pn, ok := prev.Node(n.Path)
		switch {
		case !ok || !pn.IsGenerated() || pn.Fn == nil:
			declarationMarks[n.Path] = Mark{Reason: ReasonNew}
		case pn.Fn.Digest != n.Fn.Digest:
			declarationMarks[n.Path] = Mark{Reason: ReasonFunctionChanged}
		case !sameDirectInputs(prev, pn, working, n):
			declarationMarks[n.Path] = Mark{Reason: ReasonInputSetChanged}
		default:
			if err := working.CarryIndirectFrom(prev, n); err != nil {
				return nil, err
			}
		}
	}

	live, liveErrs, err := fingerprintAll(ctx, working, fp, parallelism)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Declared:      declared,
		Working:       working,
		Dirty:         make(map[string]Mark),
		SourceDigests: make(map[string]fingerprint.Digest),
		SourceErrors:  make(map[string]error),
	}

	for _, n := range working.Nodes() {
		if n.IsGenerated() {
			continue
		}
		a.SourceDigests[n.Path] = live[n.Path]
		if err := liveErrs[n.Path]; err != nil {
			a.SourceErrors[n.Path] = err
			logger.Warn("Source file could not be fingerprinted.", "path", n.Path, "error", err)
		}
	}

	// Seed the dirty set.
	for _, n := range working.NodesByPath() {
		if n.IsGenerated() {
			if mark, ok := declarationMarks[n.Path]; ok {
				a.Dirty[n.Path] = mark
				continue
			}
			recorded := recordedDigest(prev, n.Path)
			if recorded.IsZero() {
				a.Dirty[n.Path] = Mark{Reason: ReasonRetry}
				continue
			}
			if live[n.Path] != recorded {
				a.Dirty[n.Path] = Mark{Reason: ReasonOutputChanged}
			}
			continue
		}
		if live[n.Path] != recordedDigest(prev, n.Path) {
			a.Dirty[n.Path] = Mark{Reason: ReasonSourceChanged}
		}
	}

	a.propagate(siblingOutputs(productions))
	if err := a.buildUnits(ctx, productions); err != nil {
		return nil, err
	}

	logger.Debug("Staleness analysis complete.",
		"nodes", working.Len(), "dirty", len(a.Dirty), "units", len(a.Units))
	return a, nil
}

// cloneDeclared copies nodes, producers, and direct edges into a fresh
// graph that propagation and carry-over are free to extend.
func cloneDeclared(declared *graph.Graph) *graph.Graph {
	g := graph.New()
	for _, n := range declared.Nodes() {
		m := g.Ensure(n.Path, n.Kind, n.DeclOrder)
		if n.Fn != nil {
			m.Fn = g.RegisterFunction(n.Fn)
		}
	}
	for _, n := range declared.Nodes() {
		for _, e := range declared.Outgoing(n, graph.Direct) {
			src, _ := g.Node(e.Src.Path)
			dst, _ := g.Node(e.Dst.Path)
			fn := e.Fn
			if fn != nil {
				fn = g.RegisterFunction(fn)
			}
			// Endpoints were just created and validated; AddEdge cannot
			// fail here.
			_ = g.AddEdge(src, dst, fn, graph.Direct)
		}
	}
	return g
}

func sameDirectInputs(prevG *graph.Graph, prevN *graph.Node, curG *graph.Graph, curN *graph.Node) bool {
	prevIn := directInputPaths(prevG, prevN)
	curIn := directInputPaths(curG, curN)
	if len(prevIn) != len(curIn) {
		return false
	}
	for i := range prevIn {
		if prevIn[i] != curIn[i] {
			return false
		}
	}
	return true
}

func directInputPaths(g *graph.Graph, n *graph.Node) []string {
	edges := g.Incoming(n, graph.Direct)
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.Src.Path
	}
	sort.Strings(out)
	return out
}

func recordedDigest(prev *graph.Graph, path string) fingerprint.Digest {
	if n, ok := prev.Node(path); ok {
		return n.Fingerprint
	}
	return fingerprint.None
}

// fingerprintAll hashes every node's file concurrently. Absent files yield
// the empty digest without an error; anything else is reported per path.
func fingerprintAll(ctx context.Context, g *graph.Graph, fp Fingerprinter, parallelism int) (map[string]fingerprint.Digest, map[string]error, error) {
	nodes := g.Nodes()
	digests := make([]fingerprint.Digest, len(nodes))
	errs := make([]error, len(nodes))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(parallelism)
	for i, n := range nodes {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			d, err := fp.File(egCtx, n.Path)
			if err != nil {
				if isNotExist(err) {
					digests[i] = fingerprint.None
					return nil
				}
				digests[i] = fingerprint.None
				errs[i] = err
				return nil
			}
			digests[i] = d
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	live := make(map[string]fingerprint.Digest, len(nodes))
	liveErrs := make(map[string]error)
	for i, n := range nodes {
		live[n.Path] = digests[i]
		if errs[i] != nil {
			liveErrs[n.Path] = errs[i]
		}
	}
	return live, liveErrs, nil
}

// siblingOutputs maps each output of a multi-output production to the full
// output list of that production. An invocation rewrites all its outputs,
// so one stale sibling drags the rest along.
func siblingOutputs(productions []rule.Production) map[string][]string {
	out := make(map[string][]string)
	for _, p := range productions {
		if len(p.Outputs) < 2 {
			continue
		}
		for _, o := range p.Outputs {
			out[o] = p.Outputs
		}
	}
	return out
}

// propagate floods staleness downstream over both edge kinds, pulling every
// output of a touched invocation unit along. The queue is seeded in path
// order and each node enters it once.
func (a *Analysis) propagate(siblings map[string][]string) {
	queue := make([]string, 0, len(a.Dirty))
	for p := range a.Dirty {
		queue = append(queue, p)
	}
	sort.Strings(queue)

	for i := 0; i < len(queue); i++ {
		p := queue[i]
		for _, sib := range siblings[p] {
			if sib == p {
				continue
			}
			if _, seen := a.Dirty[sib]; !seen {
				a.Dirty[sib] = Mark{Reason: ReasonSibling, Upstream: p}
				queue = append(queue, sib)
			}
		}

		n, ok := a.Working.Node(p)
		if !ok {
			continue
		}
		for _, e := range a.Working.Outgoing(n) {
			if _, seen := a.Dirty[e.Dst.Path]; seen {
				continue
			}
			a.Dirty[e.Dst.Path] = Mark{Reason: ReasonUpstream, Upstream: p}
			queue = append(queue, e.Dst.Path)
		}
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
