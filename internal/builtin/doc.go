// Package builtin provides the build functions the rule file can bind:
// concatenation, file copy, include-expanding templates, and external
// commands. Each constructor folds an implementation version into the
// function identity, so changing a builtin's behavior invalidates the
// outputs built with it.
package builtin
