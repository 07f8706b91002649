package execute

import "fmt"

// ErrorClass labels what went wrong with an invocation unit.
type ErrorClass int

const (
	// ClassIO marks a missing declared input or an unreadable file.
	ClassIO ErrorClass = iota
	// ClassBuild marks a failed function invocation or a declared output
	// the function did not produce.
	ClassBuild
	// ClassPropagated marks a unit skipped because something upstream
	// failed.
	ClassPropagated
	// ClassCanceled marks a unit that never started because the run was
	// aborted.
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassIO:
		return "io"
	case ClassBuild:
		return "build"
	case ClassPropagated:
		return "propagated"
	case ClassCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// NodeError is a failure attributed to one invocation unit.
type NodeError struct {
	Unit  string
	Class ErrorClass
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Unit, e.Class, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
