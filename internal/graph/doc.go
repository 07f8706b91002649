// Package graph holds the dependency graph: file nodes keyed by
// workspace-relative path, the build functions that produce them, and the
// edges between them. Direct edges come from declared rules; indirect edges
// record dependencies a function was observed to use while it ran.
//
// A Graph is not synchronized. The run pipeline confines all mutation to a
// single coordinating goroutine; workers only ever receive immutable copies
// of the slices they need.
package graph
