// Package probe runs build functions against the real workspace while
// recording what they touch. Every read and write goes through an IO
// handle rooted at the workspace directory; the resulting Observation is
// what turns undeclared reads into tracked dependencies.
package probe
