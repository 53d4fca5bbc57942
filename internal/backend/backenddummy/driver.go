// Package backenddummy is an in-process loopback backend. It is compiled on
// every platform and selected when no OS backend is available, or when a
// caller asks for it explicitly. A process-wide patch bay stands in for the
// OS: virtual outputs deliver to every open virtual input registered under
// the same name, and tests install fixture ports to play the role of
// hardware.
package backenddummy

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func init() {
	backend.Register(contracts.BackendDummy, New)
}

// ErrDetached is the device-level error a handle reports once its port has
// been detached from the bay.
var ErrDetached = errors.New("dummy device detached")

type bayPort struct {
	name    string
	dir     contracts.Direction
	virtual bool
	gone    bool
	inputs  []*inputHandle
	sent    [][]byte
}

// The bay is process-wide, like the OS subsystem it stands in for.
var bay = struct {
	sync.Mutex
	ports []*bayPort
}{}

// Install registers a fixture port, playing the role of attached hardware.
func Install(name string, dir contracts.Direction) {
	bay.Lock()
	defer bay.Unlock()
	bay.ports = append(bay.ports, &bayPort{name: name, dir: dir})
}

// Detach marks a fixture port gone, as if its device were unplugged. Open
// handles on it stay open and fail on use.
func Detach(name string) {
	bay.Lock()
	defer bay.Unlock()
	for _, p := range bay.ports {
		if p.name == name {
			p.gone = true
		}
	}
}

// Inject delivers one raw chunk to every open input on the named port, as
// the backend notification thread would. Chunks may fragment messages.
func Inject(name string, data []byte) {
	bay.Lock()
	var targets []*inputHandle
	for _, p := range bay.ports {
		if p.name == name && p.dir == contracts.DirectionInput && !p.gone {
			targets = append(targets, p.inputs...)
		}
	}
	bay.Unlock()
	now := time.Now()
	for _, in := range targets {
		in.recv(now, data)
	}
}

// Captured returns a copy of everything sent through outputs bound to the
// named port.
func Captured(name string) [][]byte {
	bay.Lock()
	defer bay.Unlock()
	var out [][]byte
	for _, p := range bay.ports {
		if p.name != name {
			continue
		}
		for _, raw := range p.sent {
			out = append(out, append([]byte(nil), raw...))
		}
	}
	return out
}

// Reset empties the bay. Tests call it between scenarios.
func Reset() {
	bay.Lock()
	defer bay.Unlock()
	bay.ports = nil
}

type driver struct {
	logger contracts.Logger
	closed atomic.Bool
}

// New opens a dummy driver on the process-wide bay. It never fails.
func New(opts *contracts.ClientOptions) (backend.Driver, error) {
	return &driver{logger: opts.Logger}, nil
}

func (d *driver) Tag() contracts.BackendTag { return contracts.BackendDummy }

func (d *driver) Capabilities() contracts.CapabilitySet {
	return contracts.CapVirtualPorts | contracts.CapPortRename
}

// snapshot returns the live bay ports for one direction, in install order.
// Callers must hold the bay lock.
func snapshot(dir contracts.Direction) []*bayPort {
	var out []*bayPort
	for _, p := range bay.ports {
		if p.dir == dir && !p.gone {
			out = append(out, p)
		}
	}
	return out
}

func (d *driver) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	if d.closed.Load() {
		return nil, contracts.ErrBackendUnavailable
	}
	bay.Lock()
	defer bay.Unlock()
	var out []contracts.Port
	for i, p := range snapshot(dir) {
		out = append(out, contracts.Port{
			Ordinal:   uint(i),
			Name:      p.name,
			Direction: dir,
			Backend:   contracts.BackendDummy,
			Virtual:   p.virtual,
		})
	}
	return out, nil
}

func (d *driver) resolve(dir contracts.Direction, ordinal uint) (*bayPort, error) {
	if d.closed.Load() {
		return nil, contracts.ErrBackendUnavailable
	}
	bay.Lock()
	defer bay.Unlock()
	live := snapshot(dir)
	if int(ordinal) >= len(live) {
		return nil, fmt.Errorf("%w: %s ordinal %d of %d", contracts.ErrPortNotFound, dir, ordinal, len(live))
	}
	return live[ordinal], nil
}

func (d *driver) OpenOutput(ordinal uint) (backend.OutputHandle, error) {
	p, err := d.resolve(contracts.DirectionOutput, ordinal)
	if err != nil {
		return nil, err
	}
	return &outputHandle{port: p}, nil
}

func (d *driver) OpenVirtualOutput(name string) (backend.OutputHandle, error) {
	if d.closed.Load() {
		return nil, contracts.ErrBackendUnavailable
	}
	p := &bayPort{name: name, dir: contracts.DirectionOutput, virtual: true}
	bay.Lock()
	bay.ports = append(bay.ports, p)
	bay.Unlock()
	return &outputHandle{port: p}, nil
}

func (d *driver) OpenInput(ordinal uint, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	p, err := d.resolve(contracts.DirectionInput, ordinal)
	if err != nil {
		return nil, err
	}
	h := &inputHandle{port: p, recv: recv}
	bay.Lock()
	p.inputs = append(p.inputs, h)
	bay.Unlock()
	return h, nil
}

func (d *driver) OpenVirtualInput(name string, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	if d.closed.Load() {
		return nil, contracts.ErrBackendUnavailable
	}
	p := &bayPort{name: name, dir: contracts.DirectionInput, virtual: true}
	h := &inputHandle{port: p, recv: recv}
	p.inputs = []*inputHandle{h}
	bay.Lock()
	bay.ports = append(bay.ports, p)
	bay.Unlock()
	return h, nil
}

func (d *driver) Close() error {
	d.closed.Store(true)
	return nil
}

type outputHandle struct {
	mu     sync.Mutex
	port   *bayPort
	closed bool
}

func (h *outputHandle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}

	bay.Lock()
	if h.port.gone {
		bay.Unlock()
		return fmt.Errorf("%w: %s", ErrDetached, h.port.name)
	}
	h.port.sent = append(h.port.sent, append([]byte(nil), data...))
	// Cable the output to every open input registered under the same
	// name, virtual-midi style.
	var targets []*inputHandle
	for _, p := range bay.ports {
		if p.name == h.port.name && p.dir == contracts.DirectionInput && !p.gone {
			targets = append(targets, p.inputs...)
		}
	}
	bay.Unlock()

	now := time.Now()
	for _, in := range targets {
		in.recv(now, data)
	}
	return nil
}

func (h *outputHandle) SetName(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	bay.Lock()
	h.port.name = name
	bay.Unlock()
	return nil
}

func (h *outputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.port.virtual {
		removePort(h.port)
	}
	return nil
}

type inputHandle struct {
	mu     sync.Mutex
	port   *bayPort
	recv   backend.ReceiveFunc
	closed bool
}

func (h *inputHandle) SetName(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	bay.Lock()
	h.port.name = name
	bay.Unlock()
	return nil
}

func (h *inputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	bay.Lock()
	for i, in := range h.port.inputs {
		if in == h {
			h.port.inputs = append(h.port.inputs[:i], h.port.inputs[i+1:]...)
			break
		}
	}
	bay.Unlock()
	if h.port.virtual {
		removePort(h.port)
	}
	return nil
}

func removePort(p *bayPort) {
	bay.Lock()
	defer bay.Unlock()
	for i, q := range bay.ports {
		if q == p {
			bay.ports = append(bay.ports[:i], bay.ports[i+1:]...)
			return
		}
	}
}
