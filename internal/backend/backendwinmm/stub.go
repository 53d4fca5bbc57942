//go:build !windows || nowinmm

// Package backendwinmm drives the Windows Multimedia MIDI API. On this build
// it is compiled out and registers nothing.
package backendwinmm
