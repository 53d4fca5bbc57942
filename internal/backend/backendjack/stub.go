//go:build !(linux || darwin) || nojack

package backendjack

// Compiled out on this build; nothing registers and selection skips to the
// next backend.
