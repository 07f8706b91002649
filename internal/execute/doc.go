// Package execute runs a rebuild plan with a bounded worker pool. Workers
// receive immutable invocation descriptions and report over a result
// channel; the coordinator alone mutates scheduling state, applies
// results, and propagates failures to dependents. Independent subtrees
// keep running when a unit fails; cancellation stops dispatch, lets
// in-flight workers drain, and reports the rest as canceled.
package execute
