// Package rule defines the declared-rule model: build functions with
// content-derived identities, and productions binding a function to its
// declared inputs and outputs.
package rule
