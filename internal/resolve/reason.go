package resolve

import "fmt"

// Reason says why a node is scheduled for rebuild.
type Reason int

const (
	// ReasonNew marks a node with no recorded state in the snapshot.
	ReasonNew Reason = iota
	// ReasonInputSetChanged marks a node whose declared inputs differ
	// from the recorded ones.
	ReasonInputSetChanged
	// ReasonFunctionChanged marks a node whose producing function has a
	// different fingerprint than the recorded one.
	ReasonFunctionChanged
	// ReasonRetry marks a node whose recorded digest was cleared by an
	// earlier failed or interrupted run.
	ReasonRetry
	// ReasonOutputChanged marks a node whose on-disk content no longer
	// matches the recorded digest: edited or deleted out of band.
	ReasonOutputChanged
	// ReasonSourceChanged marks a source file whose content differs from
	// the recorded digest. Sources are never built; the mark exists to
	// propagate.
	ReasonSourceChanged
	// ReasonSibling marks an output rebuilt because another output of the
	// same invocation is stale.
	ReasonSibling
	// ReasonUpstream marks a node rebuilt because something it depends on
	// is stale.
	ReasonUpstream
)

// String implements fmt.Stringer for Reason.
func (r Reason) String() string {
	switch r {
	case ReasonNew:
		return "new"
	case ReasonInputSetChanged:
		return "inputs changed"
	case ReasonFunctionChanged:
		return "function changed"
	case ReasonRetry:
		return "retry after failure"
	case ReasonOutputChanged:
		return "output modified"
	case ReasonSourceChanged:
		return "source changed"
	case ReasonSibling:
		return "sibling output stale"
	case ReasonUpstream:
		return "upstream changed"
	}
	return "unknown"
}

// Mark is a node's staleness verdict. Upstream names the triggering path
// for ReasonUpstream and ReasonSibling.
type Mark struct {
	Reason   Reason
	Upstream string
}

// String implements fmt.Stringer for Mark.
func (m Mark) String() string {
	if m.Upstream != "" {
		return fmt.Sprintf("%s (%s)", m.Reason, m.Upstream)
	}
	return m.Reason.String()
}
