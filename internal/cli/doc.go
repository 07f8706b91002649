// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It maps
// subcommands onto app methods; usage mistakes exit with code 2, failed
// runs with code 1.
package cli
