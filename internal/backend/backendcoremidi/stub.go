//go:build !darwin || nocoremidi

// Package backendcoremidi drives Apple CoreMIDI through go-coremidi. On this
// build it is compiled out and registers nothing.
package backendcoremidi
