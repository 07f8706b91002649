// Package rulefile loads build rules from HCL files and turns them into
// productions the engine can schedule. Each rule block names a command
// kind and a unique rule name; the block body is decoded by the command's
// registry entry. Input patterns may use globs, which expand against the
// workspace and against the outputs earlier rules declare.
package rulefile
