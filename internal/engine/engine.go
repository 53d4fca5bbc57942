// Package engine implements the core MIDI engine on top of a selected
// backend driver: the port directory, output and input channels, System
// Exclusive reassembly and channel lifecycle guarding. Everything OS
// specific lives behind the backend.Driver interface.
package engine

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

// Engine binds one backend driver handle to a port directory and hands out
// channels. It implements contracts.Engine.
type Engine struct {
	logger contracts.Logger
	opts   *contracts.ClientOptions
	driver backend.Driver
	info   contracts.BackendInfo
	dir    *directory

	mu     sync.Mutex
	closed bool
}

// New wraps an opened driver. The capability set is read once here and
// never again; capabilities are fixed for the life of the process.
func New(driver backend.Driver, opts *contracts.ClientOptions) *Engine {
	return &Engine{
		logger: opts.Logger,
		opts:   opts,
		driver: driver,
		info: contracts.BackendInfo{
			Tag:          driver.Tag(),
			Capabilities: driver.Capabilities(),
		},
		dir: newDirectory(driver, opts.Logger),
	}
}

// Backend returns the tag and capability set fixed at selection time.
func (e *Engine) Backend() contracts.BackendInfo {
	return e.info
}

// Ports serves the cached enumeration snapshot for one direction.
func (e *Engine) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	return e.dir.ports(dir)
}

// Refresh re-queries the OS and invalidates previously issued ordinals.
// Channels already open on dropped ports stay open; their next send or
// receive surfaces the device-level failure.
func (e *Engine) Refresh() error {
	if err := e.alive(); err != nil {
		return err
	}
	return e.dir.refresh()
}

// OpenOutput binds an output channel to an enumerated port.
func (e *Engine) OpenOutput(port contracts.Port) (contracts.Output, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	if port.Direction != contracts.DirectionOutput {
		return nil, fmt.Errorf("%w: %q is not an output port", contracts.ErrPortNotFound, port.Name)
	}
	handle, err := e.driver.OpenOutput(port.Ordinal)
	if err != nil {
		return nil, err
	}
	e.logger.Info("output port opened",
		e.logger.Field().String("port", port.Name),
		e.logger.Field().String("backend", e.info.Tag.String()))
	return newOutput(e.logger, handle, port, false, e.info.Capabilities), nil
}

// OpenVirtualOutput registers a new virtual output port.
func (e *Engine) OpenVirtualOutput(name string) (contracts.Output, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	if !e.info.Capabilities.Has(contracts.CapVirtualPorts) {
		return nil, fmt.Errorf("%w: %s backend has no virtual ports", contracts.ErrUnsupportedOperation, e.info.Tag)
	}
	handle, err := e.driver.OpenVirtualOutput(name)
	if err != nil {
		return nil, err
	}
	e.logger.Info("virtual output registered", e.logger.Field().String("name", name))
	port := contracts.Port{Name: name, Direction: contracts.DirectionOutput, Backend: e.info.Tag, Virtual: true}
	return newOutput(e.logger, handle, port, true, e.info.Capabilities), nil
}

// OpenInput binds an input channel to an enumerated port.
func (e *Engine) OpenInput(port contracts.Port) (contracts.Input, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	if port.Direction != contracts.DirectionInput {
		return nil, fmt.Errorf("%w: %q is not an input port", contracts.ErrPortNotFound, port.Name)
	}
	in := newInput(e.logger, port, false, e.info.Capabilities, e.opts)
	handle, err := e.driver.OpenInput(port.Ordinal, in.receive)
	if err != nil {
		return nil, err
	}
	in.handle = handle
	e.logger.Info("input port opened",
		e.logger.Field().String("port", port.Name),
		e.logger.Field().String("backend", e.info.Tag.String()))
	return in, nil
}

// OpenVirtualInput registers a new virtual input port.
func (e *Engine) OpenVirtualInput(name string) (contracts.Input, error) {
	if err := e.alive(); err != nil {
		return nil, err
	}
	if !e.info.Capabilities.Has(contracts.CapVirtualPorts) {
		return nil, fmt.Errorf("%w: %s backend has no virtual ports", contracts.ErrUnsupportedOperation, e.info.Tag)
	}
	port := contracts.Port{Name: name, Direction: contracts.DirectionInput, Backend: e.info.Tag, Virtual: true}
	in := newInput(e.logger, port, true, e.info.Capabilities, e.opts)
	handle, err := e.driver.OpenVirtualInput(name, in.receive)
	if err != nil {
		return nil, err
	}
	in.handle = handle
	e.logger.Info("virtual input registered", e.logger.Field().String("name", name))
	return in, nil
}

// Close releases the backend driver handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.dir.invalidate()
	return e.driver.Close()
}

func (e *Engine) alive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: engine closed", contracts.ErrBackendUnavailable)
	}
	return nil
}
