// Package resolve decides what must be rebuilt. It compares the declared
// rules and the live filesystem against the previous snapshot, carries
// forward remembered indirect dependencies, and produces an ordered plan of
// invocation units covering exactly the stale part of the graph.
package resolve
