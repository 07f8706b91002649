// Package snapshot persists the dependency graph between runs and brings it
// back. The on-disk form is a versioned line-oriented text file written
// atomically, so a crash leaves either the previous snapshot or the new one,
// never a torn file. Anything unreadable degrades to an empty graph, which
// costs a full rebuild and nothing else.
package snapshot
