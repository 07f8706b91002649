package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/graph"
)

// Rebuild records one successful function invocation: the digest of the
// produced file and every read the function was observed to make, keyed by
// path with the content digest seen at read time.
type Rebuild struct {
	Digest fingerprint.Digest
	Reads  map[string]fingerprint.Digest
}

// RunResult carries what a run learned, keyed by node path. Nodes in
// neither map were clean and keep their recorded state.
type RunResult struct {
	// Rebuilt nodes completed successfully this run.
	Rebuilt map[string]Rebuild
	// Invalidated nodes were scheduled but did not complete: failed,
	// skipped after an upstream failure, or canceled. Their recorded
	// digest is cleared so the next run retries them.
	Invalidated map[string]bool
	// SourceDigests are the live fingerprints taken at the start of the
	// run for every source file the analysis looked at.
	SourceDigests map[string]fingerprint.Digest
}

// Merge produces the next snapshot graph: the declared structure, updated
// with this run's results. Rebuilt nodes get fresh digests and freshly
// observed indirect edges; everything else keeps what the previous snapshot
// recorded. Indirect edges pointing at generated files that no rule
// declares anymore are dropped; undeclared source files they point at are
// kept, since edits to those must still re-trigger their readers.
func Merge(ctx context.Context, prev, declared *graph.Graph, res RunResult) (*graph.Graph, error) {
	next := graph.New()

	for _, n := range declared.Nodes() {
		m := next.Ensure(n.Path, n.Kind, n.DeclOrder)
		if n.Fn != nil {
			m.Fn = next.RegisterFunction(n.Fn)
		}
	}

	for _, n := range declared.Nodes() {
		for _, e := range declared.Outgoing(n, graph.Direct) {
			src, _ := next.Node(e.Src.Path)
			dst, _ := next.Node(e.Dst.Path)
			fn := e.Fn
			if fn != nil {
				fn = next.RegisterFunction(fn)
			}
			if err := next.AddEdge(src, dst, fn, graph.Direct); err != nil {
				return nil, fmt.Errorf("merge declared edge %s -> %s: %w", e.Src.Path, e.Dst.Path, err)
			}
		}
	}

	for _, m := range next.NodesByPath() {
		if !m.IsGenerated() {
			continue
		}

		if rb, ok := res.Rebuilt[m.Path]; ok {
			m.Fingerprint = rb.Digest
			if err := attachObservedReads(next, m, rb); err != nil {
				return nil, err
			}
			continue
		}

		if res.Invalidated[m.Path] {
			m.Fingerprint = fingerprint.None
			if err := next.CarryIndirectFrom(prev, m); err != nil {
				return nil, err
			}
			continue
		}

		if pn, ok := prev.Node(m.Path); ok {
			m.Fingerprint = pn.Fingerprint
			if err := next.CarryIndirectFrom(prev, m); err != nil {
				return nil, err
			}
		}
	}

	// Source digests: a read observed during this run is the freshest
	// value, then the live fingerprint from the analysis pass, then
	// whatever the previous snapshot had.
	readDigests := collectReadDigests(res)
	for _, m := range next.NodesByPath() {
		if m.IsGenerated() {
			continue
		}
		if d, ok := readDigests[m.Path]; ok {
			m.Fingerprint = d
			continue
		}
		if d, ok := res.SourceDigests[m.Path]; ok {
			m.Fingerprint = d
			continue
		}
		if pn, ok := prev.Node(m.Path); ok {
			m.Fingerprint = pn.Fingerprint
		}
	}

	ctxlog.FromContext(ctx).Debug("Snapshot merged.",
		"nodes", next.Len(), "rebuilt", len(res.Rebuilt), "invalidated", len(res.Invalidated))
	return next, nil
}

// attachObservedReads turns a rebuild's reads into indirect edges, skipping
// anything already covered by a declared edge.
func attachObservedReads(next *graph.Graph, dst *graph.Node, rb Rebuild) error {
	declared := make(map[string]bool)
	for _, e := range next.Incoming(dst, graph.Direct) {
		declared[e.Src.Path] = true
	}

	paths := make([]string, 0, len(rb.Reads))
	for p := range rb.Reads {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if p == dst.Path || declared[p] {
			continue
		}
		src, ok := next.Node(p)
		if !ok {
			src = next.Ensure(p, graph.Source, dst.DeclOrder)
		}
		if err := next.AddEdge(src, dst, dst.Fn, graph.Indirect); err != nil {
			return fmt.Errorf("merge observed read %s -> %s: %w", p, dst.Path, err)
		}
	}
	return nil
}

func collectReadDigests(res RunResult) map[string]fingerprint.Digest {
	nodePaths := make([]string, 0, len(res.Rebuilt))
	for p := range res.Rebuilt {
		nodePaths = append(nodePaths, p)
	}
	sort.Strings(nodePaths)

	out := make(map[string]fingerprint.Digest)
	for _, np := range nodePaths {
		for p, d := range res.Rebuilt[np].Reads {
			out[p] = d
		}
	}
	return out
}

// PruneSet returns the generated files recorded in the previous snapshot
// that no current rule declares, sorted. Paths that still exist in the
// declared graph are never in the set, even when they changed kind: a file
// the user has taken over as a source must not be deleted.
func PruneSet(prev, declared *graph.Graph) []string {
	var out []string
	for _, n := range prev.NodesByPath() {
		if !n.IsGenerated() {
			continue
		}
		if _, ok := declared.Node(n.Path); ok {
			continue
		}
		out = append(out, n.Path)
	}
	return out
}

// PruneFailure records an output that could not be deleted.
type PruneFailure struct {
	Path string
	Err  error
}

// Prune deletes stale outputs under root. It is best-effort: a file that is
// already gone counts as pruned, and other failures are logged and
// reported without stopping the run.
func Prune(ctx context.Context, root string, paths []string) []PruneFailure {
	logger := ctxlog.FromContext(ctx)

	var failures []PruneFailure
	for _, p := range paths {
		err := os.Remove(filepath.Join(root, p))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to prune stale output.", "path", p, "error", err)
			failures = append(failures, PruneFailure{Path: p, Err: err})
			continue
		}
		logger.Info("Pruned stale output.", "path", p)
	}
	return failures
}
