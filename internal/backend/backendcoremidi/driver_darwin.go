//go:build darwin && !nocoremidi

package backendcoremidi

import (
	"fmt"
	"sync"
	"time"

	"github.com/youpy/go-coremidi"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func init() {
	backend.Register(contracts.BackendCoreMIDI, New)
}

type driver struct {
	logger contracts.Logger
	client coremidi.Client

	mu     sync.Mutex
	closed bool
	inputs []*inputHandle
}

// New creates a CoreMIDI client. CoreMIDI is always present on darwin, so a
// failure here means the MIDI server itself refused the session.
func New(opts *contracts.ClientOptions) (backend.Driver, error) {
	client, err := coremidi.NewClient(opts.ClientName)
	if err != nil {
		return nil, fmt.Errorf("coremidi client create: %w", err)
	}
	return &driver{logger: opts.Logger, client: client}, nil
}

func (d *driver) Tag() contracts.BackendTag { return contracts.BackendCoreMIDI }

// The MIDI server tracks attach and detach on its own; every enumeration
// reflects the current device set without an explicit rescan.
func (d *driver) Capabilities() contracts.CapabilitySet {
	return contracts.CapVirtualPorts | contracts.CapHotplugNotification
}

func (d *driver) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	var out []contracts.Port
	switch dir {
	case contracts.DirectionInput:
		sources, err := coremidi.AllSources()
		if err != nil {
			return nil, fmt.Errorf("coremidi sources: %w", err)
		}
		for i, s := range sources {
			out = append(out, contracts.Port{
				Ordinal:   uint(i),
				Name:      endpointName(s.Entity().Name(), s.Name()),
				Direction: dir,
				Backend:   contracts.BackendCoreMIDI,
			})
		}
	case contracts.DirectionOutput:
		dests, err := coremidi.AllDestinations()
		if err != nil {
			return nil, fmt.Errorf("coremidi destinations: %w", err)
		}
		for i, dst := range dests {
			out = append(out, contracts.Port{
				Ordinal:   uint(i),
				Name:      endpointName(dst.Entity().Name(), dst.Name()),
				Direction: dir,
				Backend:   contracts.BackendCoreMIDI,
			})
		}
	}
	return out, nil
}

// endpointName joins the entity and endpoint names the way users see them in
// Audio MIDI Setup.
func endpointName(entity, endpoint string) string {
	if entity == "" || entity == endpoint {
		return endpoint
	}
	return entity + " " + endpoint
}

func (d *driver) OpenOutput(ordinal uint) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	dests, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("coremidi destinations: %w", err)
	}
	if int(ordinal) >= len(dests) {
		return nil, fmt.Errorf("%w: coremidi destination %d of %d", contracts.ErrPortNotFound, ordinal, len(dests))
	}
	port, err := coremidi.NewOutputPort(d.client, "out")
	if err != nil {
		return nil, fmt.Errorf("coremidi output port: %w", err)
	}
	dst := dests[ordinal]
	return &outputHandle{send: func(data []byte) error {
		return coremidi.NewPacket(data, 0).Send(&port, &dst)
	}}, nil
}

func (d *driver) OpenVirtualOutput(name string) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	src, err := coremidi.NewSource(d.client, name)
	if err != nil {
		return nil, fmt.Errorf("coremidi virtual source: %w", err)
	}
	return &outputHandle{send: func(data []byte) error {
		return coremidi.NewPacket(data, 0).Received(&src)
	}}, nil
}

func (d *driver) OpenInput(ordinal uint, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("coremidi sources: %w", err)
	}
	if int(ordinal) >= len(sources) {
		return nil, fmt.Errorf("%w: coremidi source %d of %d", contracts.ErrPortNotFound, ordinal, len(sources))
	}
	h := &inputHandle{d: d, recv: recv}
	port, err := coremidi.NewInputPort(d.client, "in", h.dispatch)
	if err != nil {
		return nil, fmt.Errorf("coremidi input port: %w", err)
	}
	conn, err := port.Connect(sources[ordinal])
	if err != nil {
		return nil, fmt.Errorf("coremidi connect: %w", err)
	}
	h.disconnect = conn.Disconnect
	d.inputs = append(d.inputs, h)
	return h, nil
}

func (d *driver) OpenVirtualInput(name string, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	h := &inputHandle{d: d, recv: recv}
	if _, err := coremidi.NewDestination(d.client, name, h.dispatch); err != nil {
		return nil, fmt.Errorf("coremidi virtual destination: %w", err)
	}
	d.inputs = append(d.inputs, h)
	return h, nil
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for _, in := range d.inputs {
		in.shutdown()
	}
	d.inputs = nil
	return nil
}

type outputHandle struct {
	mu     sync.Mutex
	closed bool
	send   func([]byte) error
}

func (h *outputHandle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	return h.send(data)
}

func (h *outputHandle) SetName(string) error {
	return fmt.Errorf("%w: coremidi does not rename endpoints", contracts.ErrUnsupportedOperation)
}

func (h *outputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type inputHandle struct {
	d    *driver
	recv backend.ReceiveFunc

	mu         sync.Mutex
	closed     bool
	disconnect func()
}

// dispatch runs on the MIDI server's delivery thread. Bytes are copied out of
// the packet before they cross into the engine.
func (h *inputHandle) dispatch(_ coremidi.Source, packet coremidi.Packet) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	recv := h.recv
	h.mu.Unlock()

	data := append([]byte(nil), packet.Data...)
	recv(time.Now(), data)
}

func (h *inputHandle) SetName(string) error {
	return fmt.Errorf("%w: coremidi does not rename endpoints", contracts.ErrUnsupportedOperation)
}

func (h *inputHandle) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.disconnect != nil {
		h.disconnect()
		h.disconnect = nil
	}
}

func (h *inputHandle) Close() error {
	h.shutdown()
	return nil
}
