//go:build (linux || darwin) && !nojack

package backendjack

import (
	"fmt"
	"sync"
	"time"

	"github.com/xthexder/go-jack"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func init() {
	backend.Register(contracts.BackendJACK, New)
}

// sendBufferSize bounds the bytes queued per output port between process
// cycles.
const sendBufferSize = 64

type driver struct {
	logger contracts.Logger
	client *jack.Client
	caps   contracts.CapabilitySet

	mu       sync.Mutex
	closed   bool
	seq      uint64 // distinguishes own port names
	inputs   []*inputHandle
	outputs  []*outputHandle
}

// New connects to a running JACK server; it never starts one. The rename
// capability is probed once here and fixed for the life of the driver.
func New(opts *contracts.ClientOptions) (backend.Driver, error) {
	client, status := jack.ClientOpen(opts.ClientName, jack.NoStartServer)
	if client == nil || status != 0 {
		return nil, fmt.Errorf("jack server not running (status %d)", status)
	}

	d := &driver{
		logger: opts.Logger,
		client: client,
		caps:   contracts.CapVirtualPorts,
	}
	if probeRenameCapability() {
		d.caps |= contracts.CapPortRename
	}

	if rc := client.SetProcessCallback(d.process); rc != 0 {
		client.Close()
		return nil, fmt.Errorf("jack set process callback failed (%d)", rc)
	}
	if rc := client.Activate(); rc != 0 {
		client.Close()
		return nil, fmt.Errorf("jack activate failed (%d)", rc)
	}
	return d, nil
}

func (d *driver) Tag() contracts.BackendTag { return contracts.BackendJACK }

func (d *driver) Capabilities() contracts.CapabilitySet { return d.caps }

// process runs on the JACK realtime thread: harvest input events, flush
// queued output bytes. The whole cycle runs under d.mu so a port is never
// unregistered while a cycle still holds it; ports only leave the slices
// under the same lock, and their unregistration happens after the remover
// has released it.
func (d *driver) process(nframes uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}

	now := time.Now()
	for _, in := range d.inputs {
		for _, ev := range in.port.GetMidiEvents(nframes) {
			data := append([]byte(nil), ev.Buffer...)
			in.recv(now, data)
		}
	}

	for _, out := range d.outputs {
		buffer := out.port.MidiClearBuffer(nframes)
		for draining := true; draining; {
			select {
			case data := <-out.pending:
				out.port.MidiEventWrite(&jack.MidiData{Time: 0, Buffer: data}, buffer)
			default:
				draining = false
			}
		}
	}
	return 0
}

// foreignPorts lists the server's MIDI ports that can serve one direction.
// Ports we receive from carry the JACK output flag and vice versa.
func (d *driver) foreignPorts(dir contracts.Direction) []string {
	flags := uint64(jack.PortIsInput)
	if dir == contracts.DirectionInput {
		flags = uint64(jack.PortIsOutput)
	}
	return d.client.GetPorts("", jack.DEFAULT_MIDI_TYPE, flags)
}

func (d *driver) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	var out []contracts.Port
	for i, name := range d.foreignPorts(dir) {
		out = append(out, contracts.Port{
			Ordinal:   uint(i),
			Name:      name,
			Direction: dir,
			Backend:   contracts.BackendJACK,
		})
	}
	return out, nil
}

// registerPort creates an own port with a unique short name. Callers hold
// d.mu.
func (d *driver) registerPort(base string, flags uint64) (*jack.Port, error) {
	d.seq++
	name := fmt.Sprintf("%s_%d", base, d.seq)
	port := d.client.PortRegister(name, jack.DEFAULT_MIDI_TYPE, flags, 0)
	if port == nil {
		return nil, fmt.Errorf("jack port register %q failed", name)
	}
	return port, nil
}

func (d *driver) OpenOutput(ordinal uint) (backend.OutputHandle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, contracts.ErrBackendUnavailable
	}
	dests := d.foreignPorts(contracts.DirectionOutput)
	if int(ordinal) >= len(dests) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: jack output ordinal %d of %d", contracts.ErrPortNotFound, ordinal, len(dests))
	}
	port, err := d.registerPort("out", uint64(jack.PortIsOutput))
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	h := &outputHandle{d: d, port: port, pending: make(chan []byte, sendBufferSize)}
	d.outputs = append(d.outputs, h)
	if rc := d.client.Connect(port.GetName(), dests[ordinal]); rc != 0 {
		d.removeOutputLocked(h)
		d.mu.Unlock()
		d.client.PortUnregister(port)
		return nil, fmt.Errorf("jack connect to %q failed (%d)", dests[ordinal], rc)
	}
	d.mu.Unlock()
	return h, nil
}

func (d *driver) OpenVirtualOutput(name string) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	port := d.client.PortRegister(name, jack.DEFAULT_MIDI_TYPE, uint64(jack.PortIsOutput), 0)
	if port == nil {
		return nil, fmt.Errorf("jack port register %q failed", name)
	}
	h := &outputHandle{d: d, port: port, pending: make(chan []byte, sendBufferSize)}
	d.outputs = append(d.outputs, h)
	return h, nil
}

func (d *driver) OpenInput(ordinal uint, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, contracts.ErrBackendUnavailable
	}
	sources := d.foreignPorts(contracts.DirectionInput)
	if int(ordinal) >= len(sources) {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: jack input ordinal %d of %d", contracts.ErrPortNotFound, ordinal, len(sources))
	}
	port, err := d.registerPort("in", uint64(jack.PortIsInput))
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	h := &inputHandle{d: d, port: port, recv: recv}
	d.inputs = append(d.inputs, h)
	if rc := d.client.Connect(sources[ordinal], port.GetName()); rc != 0 {
		d.removeInputLocked(h)
		d.mu.Unlock()
		d.client.PortUnregister(port)
		return nil, fmt.Errorf("jack connect from %q failed (%d)", sources[ordinal], rc)
	}
	d.mu.Unlock()
	return h, nil
}

func (d *driver) OpenVirtualInput(name string, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	port := d.client.PortRegister(name, jack.DEFAULT_MIDI_TYPE, uint64(jack.PortIsInput), 0)
	if port == nil {
		return nil, fmt.Errorf("jack port register %q failed", name)
	}
	h := &inputHandle{d: d, port: port, recv: recv}
	d.inputs = append(d.inputs, h)
	return h, nil
}

// removeOutputLocked takes a handle out of the process cycle's view. The
// port itself is unregistered by the caller once d.mu is released.
func (d *driver) removeOutputLocked(h *outputHandle) {
	for i, o := range d.outputs {
		if o == h {
			d.outputs = append(d.outputs[:i], d.outputs[i+1:]...)
			return
		}
	}
}

func (d *driver) removeInputLocked(h *inputHandle) {
	for i, o := range d.inputs {
		if o == h {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			return
		}
	}
}

// Close releases d.mu before closing the client: jack_client_close waits for
// the process callback, which needs the lock to finish its cycle.
func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.inputs = nil
	d.outputs = nil
	d.mu.Unlock()

	if rc := d.client.Close(); rc != 0 {
		return fmt.Errorf("jack client close failed (%d)", rc)
	}
	return nil
}

func (d *driver) renamePort(port *jack.Port, name string) error {
	if !d.caps.Has(contracts.CapPortRename) {
		return fmt.Errorf("%w: installed jack lacks jack_port_rename", contracts.ErrUnsupportedOperation)
	}
	if rc := port.SetName(name); rc != 0 {
		return fmt.Errorf("jack port rename failed (%d)", rc)
	}
	return nil
}

type outputHandle struct {
	d       *driver
	port    *jack.Port
	pending chan []byte

	mu     sync.Mutex
	closed bool
}

// Send queues bytes for the next process cycle. The queue is the backend's
// immediate buffering layer; a full queue means the process thread is not
// keeping up and the send is refused rather than blocked on the RT path.
func (h *outputHandle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	cp := append([]byte(nil), data...)
	select {
	case h.pending <- cp:
		return nil
	default:
		return fmt.Errorf("jack output buffer full (%d messages pending)", sendBufferSize)
	}
}

func (h *outputHandle) SetName(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	return h.d.renamePort(h.port, name)
}

func (h *outputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.d.mu.Lock()
	live := !h.d.closed
	if live {
		h.d.removeOutputLocked(h)
	}
	h.d.mu.Unlock()
	if live {
		h.d.client.PortUnregister(h.port)
	}
	return nil
}

type inputHandle struct {
	d    *driver
	port *jack.Port
	recv backend.ReceiveFunc

	mu     sync.Mutex
	closed bool
}

func (h *inputHandle) SetName(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	return h.d.renamePort(h.port, name)
}

func (h *inputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.d.mu.Lock()
	live := !h.d.closed
	if live {
		h.d.removeInputLocked(h)
	}
	h.d.mu.Unlock()
	if live {
		h.d.client.PortUnregister(h.port)
	}
	return nil
}
