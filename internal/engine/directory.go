package engine

import (
	"sync"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

// directory caches port enumeration per direction. The cache is shared and
// refreshed only on explicit request, never invalidated behind the caller's
// back; a refresh bumps the generation, after which previously issued
// ordinals may no longer resolve.
type directory struct {
	logger contracts.Logger
	driver backend.Driver

	mu         sync.RWMutex
	generation uint64
	cache      map[contracts.Direction][]contracts.Port
	dead       bool
}

func newDirectory(driver backend.Driver, logger contracts.Logger) *directory {
	return &directory{
		logger: logger,
		driver: driver,
		cache:  make(map[contracts.Direction][]contracts.Port),
	}
}

// ports serves the cached snapshot, enumerating on first use per direction.
func (d *directory) ports(dir contracts.Direction) ([]contracts.Port, error) {
	d.mu.RLock()
	if d.dead {
		d.mu.RUnlock()
		return nil, contracts.ErrBackendUnavailable
	}
	if cached, ok := d.cache[dir]; ok {
		out := append([]contracts.Port(nil), cached...)
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if cached, ok := d.cache[dir]; ok {
		return append([]contracts.Port(nil), cached...), nil
	}
	listed, err := d.driver.Ports(dir)
	if err != nil {
		return nil, err
	}
	d.cache[dir] = listed
	return append([]contracts.Port(nil), listed...), nil
}

// refresh re-queries both directions and bumps the generation.
func (d *directory) refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return contracts.ErrBackendUnavailable
	}
	fresh := make(map[contracts.Direction][]contracts.Port, 2)
	for _, dir := range []contracts.Direction{contracts.DirectionInput, contracts.DirectionOutput} {
		listed, err := d.driver.Ports(dir)
		if err != nil {
			return err
		}
		fresh[dir] = listed
	}
	d.cache = fresh
	d.generation++
	d.logger.Debug("port directory refreshed",
		d.logger.Field().Uint64("generation", d.generation),
		d.logger.Field().Int("inputs", len(fresh[contracts.DirectionInput])),
		d.logger.Field().Int("outputs", len(fresh[contracts.DirectionOutput])))
	return nil
}

func (d *directory) invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = true
	d.cache = nil
}
