package rule

import (
	"context"
	"fmt"

	"github.com/vk/quern/internal/fingerprint"
)

// IO is the filesystem surface a build function runs against. The executor
// passes an implementation that records every read and write, which is how
// undeclared dependencies are discovered.
type IO interface {
	// ReadFile returns the content of a workspace-relative path.
	ReadFile(path string) ([]byte, error)
	// WriteFile writes a workspace-relative path, creating parent
	// directories as needed.
	WriteFile(path string, data []byte) error
}

// Impl is the executable body of a build function.
type Impl interface {
	Execute(ctx context.Context, io IO, inputs, outputs []string) error
}

// ImplFunc adapts a plain function to the Impl interface.
type ImplFunc func(ctx context.Context, io IO, inputs, outputs []string) error

// Execute implements Impl.
func (f ImplFunc) Execute(ctx context.Context, io IO, inputs, outputs []string) error {
	return f(ctx, io, inputs, outputs)
}

// Function is a build function with a stable content-derived identity.
// Two functions are the same if and only if their digests are equal; the
// name is a diagnostic label and may be shared.
type Function struct {
	Name   string
	Digest fingerprint.Digest

	impl Impl
}

// NewFunction builds a function whose digest covers the kind, an
// implementation version constant, and every bound option in order. Editing
// a builtin's logic must bump its version constant; changing any option
// changes the digest by construction.
func NewFunction(name, kind, implVersion string, options []string, impl Impl) *Function {
	fields := make([]string, 0, len(options)+2)
	fields = append(fields, kind, implVersion)
	fields = append(fields, options...)
	return &Function{
		Name:   name,
		Digest: fingerprint.SumStrings(fields...),
		impl:   impl,
	}
}

// Placeholder reconstructs a function identity loaded from a snapshot. It
// carries no implementation and cannot be executed.
func Placeholder(name string, digest fingerprint.Digest) *Function {
	return &Function{Name: name, Digest: digest}
}

// Runnable reports whether the function carries an implementation.
func (f *Function) Runnable() bool {
	return f.impl != nil
}

// Execute runs the function body. Snapshot-loaded placeholders fail here;
// only functions constructed by the current process may run.
func (f *Function) Execute(ctx context.Context, io IO, inputs, outputs []string) error {
	if f.impl == nil {
		return fmt.Errorf("function %q (%s) has no implementation in this process", f.Name, f.Digest.Short())
	}
	return f.impl.Execute(ctx, io, inputs, outputs)
}

// Production binds one function invocation to its declared inputs and
// outputs. A production with several outputs is still a single invocation.
type Production struct {
	// RuleName is the user-facing label from the rule file.
	RuleName string
	Fn       *Function
	Inputs   []string
	Outputs  []string
	// DeclIndex is the position of the producing rule in declaration
	// order. It breaks all scheduling ties, keeping runs reproducible.
	DeclIndex int
}
