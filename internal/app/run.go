package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/execute"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/probe"
	"github.com/vk/quern/internal/resolve"
	"github.com/vk/quern/internal/rule"
	"github.com/vk/quern/internal/rulefile"
	"github.com/vk/quern/internal/snapshot"
)

// Class is the overall verdict of one run.
type Class int

const (
	// ClassSuccess means every declared node is clean or was rebuilt.
	ClassSuccess Class = iota
	// ClassPartial means some subtree failed or was interrupted but the
	// completed work was persisted.
	ClassPartial
	// ClassFatal means the run aborted before mutating anything.
	ClassFatal
)

// String implements fmt.Stringer for Class.
func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassPartial:
		return "partial"
	default:
		return "fatal"
	}
}

// Summary reports one completed run.
type Summary struct {
	RunID       string
	Class       Class
	Scheduled   int
	Invocations int
	Rebuilt     int
	Failed      int
	Propagated  int
	Canceled    int
	Pruned      int
	PruneErrors int
	Duration    time.Duration
	// Failures holds one "unit: cause" line per directly failed unit.
	Failures []string
}

// Run executes the full pipeline: lock, load rules, analyze against the
// previous snapshot, execute the stale set, prune abandoned outputs, and
// persist the next snapshot. A non-nil Summary means the workspace was
// updated, even when err reports failed units.
func (a *App) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	logger := a.logger.With("runID", runID)
	ctx = ctxlog.WithLogger(ctx, logger)
	start := time.Now()
	logger.Info("Run starting.", "root", a.ws.Root())

	lock, err := a.ws.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	productions, err := rulefile.Load(ctx, a.rulesPath(), a.ws.Root())
	if err != nil {
		return nil, err
	}
	a.setOutputs(declaredOutputs(productions))

	prev, err := snapshot.Load(ctx, a.ws.SnapshotPath())
	if err != nil {
		return nil, err
	}

	fp := fingerprint.NewRooted(a.ws.Root(), fingerprint.NewService(a.digestCache()))
	analysis, err := resolve.Analyze(ctx, prev, productions, fp, a.cfg.Workers)
	if err != nil {
		return nil, err
	}
	logger.Info("Analysis complete.", "dirty", len(analysis.Dirty), "units", len(analysis.Units))

	exec := execute.New(a.ws.Root(), probe.NewLocal(a.ws.Root()), fp, a.cfg.Workers)
	outcome := exec.Execute(ctx, analysis.Units)

	next, err := snapshot.Merge(ctx, prev, analysis.Declared, runResult(analysis, outcome))
	if err != nil {
		return nil, err
	}

	pruneSet := snapshot.PruneSet(prev, analysis.Declared)
	pruneFailures := snapshot.Prune(ctx, a.ws.Root(), pruneSet)

	if err := snapshot.Save(ctx, a.ws.SnapshotPath(), next); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	s := &Summary{
		RunID:       runID,
		Class:       ClassSuccess,
		Scheduled:   len(analysis.Units),
		Invocations: outcome.Invocations,
		Rebuilt:     outcome.Rebuilt,
		Failed:      outcome.Failed,
		Propagated:  outcome.Propagated,
		Canceled:    outcome.Canceled,
		Pruned:      len(pruneSet) - len(pruneFailures),
		PruneErrors: len(pruneFailures),
		Duration:    time.Since(start),
		Failures:    failureLines(outcome),
	}
	if !outcome.Complete() {
		s.Class = ClassPartial
	}
	a.printSummary(s)
	logger.Info("Run finished.", "class", s.Class.String(), "duration", s.Duration)
	return s, outcome.Err()
}

// declaredOutputs flattens every production's outputs in declaration
// order.
func declaredOutputs(productions []rule.Production) []string {
	var outputs []string
	for _, p := range productions {
		outputs = append(outputs, p.Outputs...)
	}
	return outputs
}

// runResult converts an execution outcome into the merge input. Rebuilt
// nodes carry fresh digests and observed reads; everything scheduled that
// did not complete is invalidated so the next run retries it.
func runResult(a *resolve.Analysis, o *execute.Outcome) snapshot.RunResult {
	res := snapshot.RunResult{
		Rebuilt:       make(map[string]snapshot.Rebuild),
		Invalidated:   make(map[string]bool),
		SourceDigests: a.SourceDigests,
	}
	for path, nr := range o.Nodes {
		if nr.Status == execute.StatusRebuilt {
			res.Rebuilt[path] = snapshot.Rebuild{Digest: nr.Digest, Reads: nr.Reads}
			continue
		}
		res.Invalidated[path] = true
	}
	return res
}

// failureLines renders one line per directly failed unit, in completion
// order.
func failureLines(o *execute.Outcome) []string {
	byUnit := make(map[string]string)
	for _, nr := range o.Nodes {
		if nr.Status != execute.StatusFailed {
			continue
		}
		var nerr *execute.NodeError
		if errors.As(nr.Err, &nerr) {
			byUnit[nerr.Unit] = nerr.Err.Error()
		}
	}
	var lines []string
	for _, u := range o.FailedUnits() {
		if msg, ok := byUnit[u]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", u, msg))
		}
	}
	return lines
}

func (a *App) printSummary(s *Summary) {
	dur := s.Duration.Round(time.Millisecond)
	if s.Class == ClassSuccess && s.Invocations == 0 && s.Pruned == 0 {
		fmt.Fprintf(a.outW, "run %s: up to date in %s\n", shortID(s.RunID), dur)
		return
	}
	fmt.Fprintf(a.outW, "run %s: %s (%d rebuilt, %d failed, %d skipped, %d canceled, %d pruned) in %s\n",
		shortID(s.RunID), s.Class, s.Rebuilt, s.Failed, s.Propagated, s.Canceled, s.Pruned, dur)
	for _, line := range s.Failures {
		fmt.Fprintf(a.outW, "  %s\n", line)
	}
}
