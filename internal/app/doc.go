// Package app wires the engine together for one workspace: rule loading,
// snapshot state, staleness analysis, execution, pruning, and persistence.
// The CLI maps subcommands onto App methods and stays free of engine
// imports.
package app
