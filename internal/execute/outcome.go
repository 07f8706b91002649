package execute

import (
	"fmt"
	"strings"
	"time"

	"github.com/vk/quern/internal/fingerprint"
)

// Status is the final state of one output node.
type Status int

const (
	// StatusRebuilt means the node's unit ran and produced it.
	StatusRebuilt Status = iota
	// StatusFailed means the node's unit ran and failed.
	StatusFailed
	// StatusPropagated means the node was skipped because of an upstream
	// failure.
	StatusPropagated
	// StatusCanceled means the node's unit never started.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRebuilt:
		return "rebuilt"
	case StatusFailed:
		return "failed"
	case StatusPropagated:
		return "propagated"
	case StatusCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// NodeResult is the execution verdict for one output node.
type NodeResult struct {
	Status Status
	// Err is set for every status except StatusRebuilt.
	Err error
	// Digest is the content hash of the produced file.
	Digest fingerprint.Digest
	// Reads maps every file the producing invocation read to its digest
	// at read time.
	Reads map[string]fingerprint.Digest
}

// Outcome reports what one execution pass did.
type Outcome struct {
	// Nodes holds the verdict for every output node in the plan.
	Nodes map[string]NodeResult
	// Invocations counts actual function invocations. An empty plan or a
	// plan that only failed input checks invokes nothing.
	Invocations int

	Rebuilt    int
	Failed     int
	Propagated int
	Canceled   int
	Duration   time.Duration

	failedUnits []string
	rootCause   error
}

// Err returns the first real failure wrapped with the names of every
// directly failed unit, or nil when no unit failed. Canceled work is not
// a failure.
func (o *Outcome) Err() error {
	if o.rootCause == nil {
		return nil
	}
	return fmt.Errorf("execution failed for %s: %w", strings.Join(o.failedUnits, ", "), o.rootCause)
}

// Complete reports whether every planned unit ran to success.
func (o *Outcome) Complete() bool {
	return o.Failed == 0 && o.Propagated == 0 && o.Canceled == 0
}

// FailedUnits lists the units that failed directly, in completion order.
// Units skipped because of those failures are not included.
func (o *Outcome) FailedUnits() []string {
	return append([]string(nil), o.failedUnits...)
}
