package probe

import (
	"context"

	"github.com/vk/quern/internal/rule"
)

// Local invokes build functions against a workspace directory on the
// local filesystem.
type Local struct {
	root string
}

// NewLocal returns a prober rooted at the workspace directory.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Run invokes fn with a fresh recording IO. The observation is returned
// even when the invocation fails, so partial traffic stays visible to the
// caller.
func (l *Local) Run(ctx context.Context, fn *rule.Function, inputs, outputs []string) (*Observation, error) {
	io := NewIO(l.root)
	err := fn.Execute(ctx, io, inputs, outputs)
	return io.Observation(), err
}
