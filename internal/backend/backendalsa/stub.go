//go:build !linux || noalsa

// Package backendalsa drives the ALSA sequencer. On this build it is
// compiled out and registers nothing; selection skips to the next backend.
package backendalsa
