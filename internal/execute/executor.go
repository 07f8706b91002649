package execute

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fingerprint"
	"github.com/vk/quern/internal/probe"
	"github.com/vk/quern/internal/resolve"
	"github.com/vk/quern/internal/rule"
)

// Prober runs one build function against the workspace and reports its
// file traffic.
type Prober interface {
	Run(ctx context.Context, fn *rule.Function, inputs, outputs []string) (*probe.Observation, error)
}

// Executor runs rebuild plans against a workspace.
type Executor struct {
	root    string
	prober  Prober
	fp      resolve.Fingerprinter
	workers int
}

// New returns an executor rooted at the workspace directory. A worker
// count below 1 is treated as 1.
func New(root string, prober Prober, fp resolve.Fingerprinter, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{root: root, prober: prober, fp: fp, workers: workers}
}

// Invocation is the immutable task description a worker receives.
type Invocation struct {
	Unit    string
	Fn      *rule.Function
	Inputs  []string
	Outputs []string
}

func invocationFor(u *resolve.Unit) Invocation {
	return Invocation{
		Unit:    u.Name(),
		Fn:      u.Production.Fn,
		Inputs:  append([]string(nil), u.Production.Inputs...),
		Outputs: append([]string(nil), u.Production.Outputs...),
	}
}

type workTask struct {
	unit *resolve.Unit
	inv  Invocation
}

type workResult struct {
	unit    *resolve.Unit
	invoked bool
	obs     *probe.Observation
	digests map[string]fingerprint.Digest
	err     error
}

// Execute runs the plan and returns the outcome. Unit failures are
// reported in the outcome, not as an error return; completed work is
// always visible to the caller for merging.
func (e *Executor) Execute(ctx context.Context, plan []*resolve.Unit) *Outcome {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	c := newCoordinator(plan)
	if c.remaining == 0 {
		logger.Debug("Empty plan, nothing to execute.")
		c.out.Duration = time.Since(start)
		return c.out
	}

	workers := e.workers
	if workers > c.remaining {
		workers = c.remaining
	}
	tasks := make(chan workTask)
	results := make(chan workResult, workers)

	var wg sync.WaitGroup
	logger.Debug("Starting worker pool.", "workers", workers, "units", c.remaining)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, id, tasks, results)
		}(i)
	}

	done := ctx.Done()
	for c.remaining > 0 {
		// An abort beats further dispatch.
		if done != nil {
			select {
			case <-done:
				done = nil
				c.cancelPending(ctx)
				continue
			default:
			}
		}

		var dispatch chan workTask
		var next workTask
		if u := c.nextReady(); u != nil {
			dispatch = tasks
			next = workTask{unit: u, inv: invocationFor(u)}
		}

		select {
		case dispatch <- next:
			c.markActive(next.unit)
		case r := <-results:
			c.apply(ctx, r)
		case <-done:
			done = nil
			c.cancelPending(ctx)
		}
	}
	close(tasks)
	wg.Wait()

	c.out.Duration = time.Since(start)
	logger.Debug("Execution complete.",
		"rebuilt", c.out.Rebuilt, "failed", c.out.Failed, "propagated", c.out.Propagated,
		"canceled", c.out.Canceled, "invocations", c.out.Invocations)
	return c.out
}

// worker is the processing loop of one concurrent worker.
func (e *Executor) worker(ctx context.Context, id int, tasks <-chan workTask, results chan<- workResult) {
	logger := ctxlog.FromContext(ctx).With("workerID", id)
	logger.Debug("Worker started.")
	for t := range tasks {
		results <- e.runOne(ctx, logger, t)
	}
	logger.Debug("Worker finished.")
}

// runOne executes a single invocation: input check, probe, output hashes.
func (e *Executor) runOne(ctx context.Context, logger *slog.Logger, t workTask) workResult {
	res := workResult{unit: t.unit}
	if err := ctx.Err(); err != nil {
		res.err = &NodeError{Unit: t.inv.Unit, Class: ClassCanceled, Err: err}
		return res
	}
	logger.Debug("Worker picked up unit.", "unit", t.inv.Unit)

	for _, in := range t.inv.Inputs {
		if _, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(in))); err != nil {
			res.err = &NodeError{Unit: t.inv.Unit, Class: ClassIO,
				Err: fmt.Errorf("declared input %s: %w", in, err)}
			return res
		}
	}

	res.invoked = true
	obs, err := e.prober.Run(ctx, t.inv.Fn, t.inv.Inputs, t.inv.Outputs)
	res.obs = obs
	if err != nil {
		res.err = &NodeError{Unit: t.inv.Unit, Class: ClassBuild, Err: err}
		return res
	}

	res.digests = make(map[string]fingerprint.Digest, len(t.inv.Outputs))
	for _, out := range t.inv.Outputs {
		d, err := e.fp.File(ctx, out)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			res.err = &NodeError{Unit: t.inv.Unit, Class: ClassBuild,
				Err: fmt.Errorf("declared output %s was not produced", out)}
			return res
		case err != nil:
			res.err = &NodeError{Unit: t.inv.Unit, Class: ClassIO,
				Err: fmt.Errorf("hash output %s: %w", out, err)}
			return res
		}
		res.digests[out] = d
	}
	return res
}

type unitState int

const (
	stWaiting unitState = iota
	stReady
	stActive
	stDone
)

// coordinator owns all scheduling state. Only the Execute loop touches
// it, so no locking is needed.
type coordinator struct {
	plan      []*resolve.Unit
	out       *Outcome
	state     map[*resolve.Unit]unitState
	waiting   map[*resolve.Unit]int
	ready     []*resolve.Unit
	remaining int
	canceled  bool
}

func newCoordinator(plan []*resolve.Unit) *coordinator {
	c := &coordinator{
		plan:      plan,
		out:       &Outcome{Nodes: make(map[string]NodeResult)},
		state:     make(map[*resolve.Unit]unitState, len(plan)),
		waiting:   make(map[*resolve.Unit]int, len(plan)),
		remaining: len(plan),
	}
	for _, u := range plan {
		if n := len(u.Deps); n > 0 {
			c.state[u] = stWaiting
			c.waiting[u] = n
		} else {
			c.state[u] = stReady
			c.ready = append(c.ready, u)
		}
	}
	sort.Slice(c.ready, func(i, j int) bool {
		return c.ready[i].Production.DeclIndex < c.ready[j].Production.DeclIndex
	})
	return c
}

// nextReady returns the dispatchable unit with the lowest declaration
// index, or nil.
func (c *coordinator) nextReady() *resolve.Unit {
	if c.canceled {
		return nil
	}
	for len(c.ready) > 0 {
		u := c.ready[0]
		if c.state[u] == stReady {
			return u
		}
		c.ready = c.ready[1:]
	}
	return nil
}

func (c *coordinator) markActive(u *resolve.Unit) {
	c.state[u] = stActive
	c.ready = c.ready[1:]
}

// pushReady keeps the queue ordered by declaration index so ties are
// dispatched deterministically.
func (c *coordinator) pushReady(u *resolve.Unit) {
	i := sort.Search(len(c.ready), func(i int) bool {
		return c.ready[i].Production.DeclIndex > u.Production.DeclIndex
	})
	c.ready = append(c.ready, nil)
	copy(c.ready[i+1:], c.ready[i:])
	c.ready[i] = u
}

// apply folds one worker result into the outcome and unlocks or fails
// dependents.
func (c *coordinator) apply(ctx context.Context, r workResult) {
	logger := ctxlog.FromContext(ctx)
	c.state[r.unit] = stDone
	c.remaining--
	if r.invoked {
		c.out.Invocations++
	}

	if r.err != nil {
		var nerr *NodeError
		if errors.As(r.err, &nerr) && nerr.Class == ClassCanceled {
			for _, n := range r.unit.Outputs {
				c.out.Nodes[n.Path] = NodeResult{Status: StatusCanceled, Err: r.err}
				c.out.Canceled++
			}
			return
		}

		logger.Error("Unit failed.", "unit", r.unit.Name(), "error", r.err)
		for _, n := range r.unit.Outputs {
			c.out.Nodes[n.Path] = NodeResult{Status: StatusFailed, Err: r.err}
			c.out.Failed++
		}
		c.out.failedUnits = append(c.out.failedUnits, r.unit.Name())
		if c.out.rootCause == nil {
			c.out.rootCause = r.err
		}
		c.propagateFailure(ctx, r.unit)
		return
	}

	c.warnUndeclaredWrites(logger, r)
	var reads map[string]fingerprint.Digest
	if r.obs != nil {
		reads = r.obs.Reads
	}
	for _, n := range r.unit.Outputs {
		c.out.Nodes[n.Path] = NodeResult{
			Status: StatusRebuilt,
			Digest: r.digests[n.Path],
			Reads:  reads,
		}
		c.out.Rebuilt++
	}
	logger.Debug("Unit completed.", "unit", r.unit.Name())

	for _, v := range r.unit.Dependents {
		if c.state[v] != stWaiting {
			continue
		}
		c.waiting[v]--
		if c.waiting[v] == 0 {
			c.state[v] = stReady
			c.pushReady(v)
		}
	}
}

// propagateFailure marks every transitive dependent of from as skipped.
// None of them has started, since their dependency never completed.
func (c *coordinator) propagateFailure(ctx context.Context, from *resolve.Unit) {
	logger := ctxlog.FromContext(ctx)
	queue := []*resolve.Unit{from}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range u.Dependents {
			if s := c.state[v]; s != stWaiting && s != stReady {
				continue
			}
			logger.Warn("Skipping unit due to upstream failure.",
				"unit", v.Name(), "upstream", u.Name())
			c.state[v] = stDone
			c.remaining--
			err := &NodeError{Unit: v.Name(), Class: ClassPropagated,
				Err: fmt.Errorf("upstream unit %s failed", u.Name())}
			for _, n := range v.Outputs {
				c.out.Nodes[n.Path] = NodeResult{Status: StatusPropagated, Err: err}
				c.out.Propagated++
			}
			queue = append(queue, v)
		}
	}
}

// cancelPending finalizes every unit that has not been dispatched.
// In-flight units keep running and report through the result channel.
func (c *coordinator) cancelPending(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	c.canceled = true
	cause := ctx.Err()
	logger.Warn("Run canceled; no further units will start.", "error", cause)
	for _, u := range c.plan {
		if s := c.state[u]; s != stWaiting && s != stReady {
			continue
		}
		c.state[u] = stDone
		c.remaining--
		err := &NodeError{Unit: u.Name(), Class: ClassCanceled, Err: cause}
		for _, n := range u.Outputs {
			c.out.Nodes[n.Path] = NodeResult{Status: StatusCanceled, Err: err}
			c.out.Canceled++
		}
	}
}

func (c *coordinator) warnUndeclaredWrites(logger *slog.Logger, r workResult) {
	if r.obs == nil {
		return
	}
	declared := make(map[string]bool, len(r.unit.Production.Outputs))
	for _, o := range r.unit.Production.Outputs {
		declared[o] = true
	}
	for _, w := range r.obs.Writes {
		if !declared[w] {
			logger.Warn("Undeclared write.", "unit", r.unit.Name(), "path", w)
		}
	}
}
