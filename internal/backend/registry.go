package backend

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/leandrodaf/midio/sdk/contracts"
)

// Factory probes and opens one backend's client handle.
type Factory func(*contracts.ClientOptions) (Driver, error)

var (
	registryMu sync.RWMutex
	factories  = map[contracts.BackendTag]Factory{}
)

// platformOrder lists the probing order per platform, most native subsystem
// first. The dummy backend is appended everywhere as last resort.
var platformOrder = map[string][]contracts.BackendTag{
	"linux":   {contracts.BackendALSA, contracts.BackendJACK},
	"darwin":  {contracts.BackendCoreMIDI, contracts.BackendJACK},
	"windows": {contracts.BackendWinMM},
}

// Register installs a compiled-in backend. Driver packages call it from
// their init; build tags decide which packages compile the call in.
func Register(tag contracts.BackendTag, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[tag] = f
}

// Registered reports whether a backend is compiled in.
func Registered(tag contracts.BackendTag) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[tag]
	return ok
}

// Candidates returns the probing order for the current platform, filtered
// to compiled-in backends. The dummy backend is a candidate only when no
// platform backend is compiled in at all: a compiled-in backend whose probe
// fails must surface that failure, not fall through to a loopback that sends
// MIDI into a void.
func Candidates() []contracts.BackendTag {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []contracts.BackendTag
	for _, tag := range platformOrder[runtime.GOOS] {
		if _, ok := factories[tag]; ok {
			out = append(out, tag)
		}
	}
	if len(out) == 0 {
		if _, ok := factories[contracts.BackendDummy]; ok {
			out = append(out, contracts.BackendDummy)
		}
	}
	return out
}

// Select opens the first available backend in platform order, or the
// explicitly preferred one. A preferred backend that is not compiled in or
// fails its probe is never substituted; the caller asked for that one.
func Select(opts *contracts.ClientOptions) (Driver, error) {
	if opts.PreferredBackend != nil {
		tag := *opts.PreferredBackend
		registryMu.RLock()
		f, ok := factories[tag]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: backend %s not compiled in", contracts.ErrBackendUnavailable, tag)
		}
		drv, err := f(opts)
		if err != nil {
			return nil, fmt.Errorf("%w: backend %s: %v", contracts.ErrBackendUnavailable, tag, err)
		}
		return drv, nil
	}

	var lastErr error
	for _, tag := range Candidates() {
		registryMu.RLock()
		f := factories[tag]
		registryMu.RUnlock()
		drv, err := f(opts)
		if err == nil {
			return drv, nil
		}
		lastErr = err
		opts.Logger.Debug("backend probe failed",
			opts.Logger.Field().String("backend", tag.String()),
			opts.Logger.Field().Error("error", err))
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: no backend probe succeeded: %v", contracts.ErrBackendUnavailable, lastErr)
	}
	return nil, fmt.Errorf("%w: no backend compiled in", contracts.ErrBackendUnavailable)
}
