// Package midio is the public entry point of the engine: it selects a MIDI
// backend for the current platform and returns an Engine for enumerating
// ports and opening channels on it.
package midio

import (
	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/internal/engine"
	"github.com/leandrodaf/midio/sdk/contracts"

	// Compiled-in backends register themselves; build tags decide which
	// registrations exist on a given platform.
	_ "github.com/leandrodaf/midio/internal/backend/backendalsa"
	_ "github.com/leandrodaf/midio/internal/backend/backendcoremidi"
	_ "github.com/leandrodaf/midio/internal/backend/backenddummy"
	_ "github.com/leandrodaf/midio/internal/backend/backendjack"
	_ "github.com/leandrodaf/midio/internal/backend/backendwinmm"
)

// New selects a backend and returns an engine bound to it.
//
// Without WithPreferredBackend the platform order applies: ALSA then JACK on
// Linux, CoreMIDI then JACK on macOS, WinMM on Windows. The loopback dummy
// is probed only when no platform backend is compiled in; a compiled-in
// backend whose probe fails surfaces ErrBackendUnavailable instead of
// falling back. Selecting again while an engine is open yields an
// independent engine on its own driver handle.
//
// Returns ErrBackendUnavailable when no backend is compiled in or every
// probe fails.
func New(opts ...contracts.Option) (contracts.Engine, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	driver, err := backend.Select(&options)
	if err != nil {
		return nil, err
	}

	options.Logger.Info("MIDI backend selected",
		options.Logger.Field().String("backend", driver.Tag().String()),
		options.Logger.Field().Bool("virtual_ports", driver.Capabilities().Has(contracts.CapVirtualPorts)),
		options.Logger.Field().Bool("port_rename", driver.Capabilities().Has(contracts.CapPortRename)))

	return engine.New(driver, &options), nil
}
