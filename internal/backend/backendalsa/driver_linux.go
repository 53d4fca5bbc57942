//go:build linux && !noalsa

// Package backendalsa drives the ALSA sequencer. The sequencer API, not
// rawmidi, is required here: virtual ports and in-place port renaming only
// exist at the sequencer level.
package backendalsa

/*
#cgo LDFLAGS: -lasound
#include <alsa/asoundlib.h>
#include <poll.h>
#include <stdlib.h>

// snd_seq_ev_set_source and friends are macros; cgo cannot call them.
static void midio_prepare_event(snd_seq_event_t *ev, int port) {
	snd_seq_ev_clear(ev);
	snd_seq_ev_set_source(ev, port);
	snd_seq_ev_set_subs(ev);
	snd_seq_ev_set_direct(ev);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func init() {
	backend.Register(contracts.BackendALSA, New)
}

const (
	eventBufferSize = 4096
	pollTimeoutMs   = 100
)

type driver struct {
	logger   contracts.Logger
	seq      *C.snd_seq_t
	clientID C.int

	mu       sync.Mutex
	closed   bool
	inputs   map[C.int]*inputHandle // keyed by own sequencer port number
	pumpDone chan struct{}
}

// New opens a duplex, non-blocking sequencer handle on the default device
// and names the client.
func New(opts *contracts.ClientOptions) (backend.Driver, error) {
	var seq *C.snd_seq_t
	dev := C.CString("default")
	defer C.free(unsafe.Pointer(dev))
	if rc := C.snd_seq_open(&seq, dev, C.SND_SEQ_OPEN_DUPLEX, C.SND_SEQ_NONBLOCK); rc < 0 {
		return nil, alsaError("snd_seq_open", rc)
	}

	name := C.CString(opts.ClientName)
	C.snd_seq_set_client_name(seq, name)
	C.free(unsafe.Pointer(name))

	return &driver{
		logger:   opts.Logger,
		seq:      seq,
		clientID: C.snd_seq_client_id(seq),
		inputs:   make(map[C.int]*inputHandle),
	}, nil
}

func (d *driver) Tag() contracts.BackendTag { return contracts.BackendALSA }

func (d *driver) Capabilities() contracts.CapabilitySet {
	return contracts.CapVirtualPorts | contracts.CapPortRename
}

func capsFor(dir contracts.Direction) C.uint {
	if dir == contracts.DirectionInput {
		return C.SND_SEQ_PORT_CAP_READ | C.SND_SEQ_PORT_CAP_SUBS_READ
	}
	return C.SND_SEQ_PORT_CAP_WRITE | C.SND_SEQ_PORT_CAP_SUBS_WRITE
}

// walkPorts visits every foreign MIDI port for one direction in discovery
// order. Callers hold d.mu.
func (d *driver) walkPorts(dir contracts.Direction, visit func(client, port C.int, name string) bool) {
	var cinfo *C.snd_seq_client_info_t
	var pinfo *C.snd_seq_port_info_t
	C.snd_seq_client_info_malloc(&cinfo)
	defer C.snd_seq_client_info_free(cinfo)
	C.snd_seq_port_info_malloc(&pinfo)
	defer C.snd_seq_port_info_free(pinfo)

	want := capsFor(dir)
	C.snd_seq_client_info_set_client(cinfo, -1)
	for C.snd_seq_query_next_client(d.seq, cinfo) >= 0 {
		client := C.snd_seq_client_info_get_client(cinfo)
		if client == C.SND_SEQ_CLIENT_SYSTEM || client == d.clientID {
			continue
		}
		C.snd_seq_port_info_set_client(pinfo, client)
		C.snd_seq_port_info_set_port(pinfo, -1)
		for C.snd_seq_query_next_port(d.seq, pinfo) >= 0 {
			if C.snd_seq_port_info_get_type(pinfo)&C.SND_SEQ_PORT_TYPE_MIDI_GENERIC == 0 {
				continue
			}
			if C.uint(C.snd_seq_port_info_get_capability(pinfo))&want != want {
				continue
			}
			port := C.snd_seq_port_info_get_port(pinfo)
			name := fmt.Sprintf("%s:%s %d:%d",
				C.GoString(C.snd_seq_client_info_get_name(cinfo)),
				C.GoString(C.snd_seq_port_info_get_name(pinfo)),
				int(client), int(port))
			if !visit(client, port, name) {
				return
			}
		}
	}
}

func (d *driver) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	var out []contracts.Port
	d.walkPorts(dir, func(_, _ C.int, name string) bool {
		out = append(out, contracts.Port{
			Ordinal:   uint(len(out)),
			Name:      name,
			Direction: dir,
			Backend:   contracts.BackendALSA,
		})
		return true
	})
	return out, nil
}

// resolve maps an enumeration ordinal back to a sequencer address. Callers
// hold d.mu.
func (d *driver) resolve(dir contracts.Direction, ordinal uint) (C.int, C.int, error) {
	var client, port C.int
	var count uint
	found := false
	d.walkPorts(dir, func(c, p C.int, _ string) bool {
		if count == ordinal {
			client, port, found = c, p, true
			return false
		}
		count++
		return true
	})
	if !found {
		return 0, 0, fmt.Errorf("%w: alsa %s ordinal %d", contracts.ErrPortNotFound, dir, ordinal)
	}
	return client, port, nil
}

// createPort registers an own sequencer port. Callers hold d.mu.
func (d *driver) createPort(name string, caps C.uint) (C.int, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	own := C.snd_seq_create_simple_port(d.seq, cname, caps,
		C.SND_SEQ_PORT_TYPE_MIDI_GENERIC|C.SND_SEQ_PORT_TYPE_APPLICATION)
	if own < 0 {
		return 0, alsaError("snd_seq_create_simple_port", own)
	}
	return own, nil
}

func (d *driver) OpenOutput(ordinal uint) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	client, port, err := d.resolve(contracts.DirectionOutput, ordinal)
	if err != nil {
		return nil, err
	}
	own, err := d.createPort("midio out", C.SND_SEQ_PORT_CAP_READ|C.SND_SEQ_PORT_CAP_SUBS_READ)
	if err != nil {
		return nil, err
	}
	if rc := C.snd_seq_connect_to(d.seq, own, client, port); rc < 0 {
		C.snd_seq_delete_simple_port(d.seq, own)
		if rc == -C.EBUSY {
			return nil, fmt.Errorf("%w: alsa %d:%d", contracts.ErrDeviceBusy, int(client), int(port))
		}
		return nil, alsaError("snd_seq_connect_to", rc)
	}
	return d.newOutputHandle(own)
}

func (d *driver) OpenVirtualOutput(name string) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	own, err := d.createPort(name, C.SND_SEQ_PORT_CAP_READ|C.SND_SEQ_PORT_CAP_SUBS_READ)
	if err != nil {
		return nil, err
	}
	return d.newOutputHandle(own)
}

func (d *driver) newOutputHandle(own C.int) (backend.OutputHandle, error) {
	var coder *C.snd_midi_event_t
	if rc := C.snd_midi_event_new(eventBufferSize, &coder); rc < 0 {
		C.snd_seq_delete_simple_port(d.seq, own)
		return nil, alsaError("snd_midi_event_new", rc)
	}
	return &outputHandle{d: d, port: own, coder: coder, coderSize: eventBufferSize}, nil
}

func (d *driver) OpenInput(ordinal uint, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	client, port, err := d.resolve(contracts.DirectionInput, ordinal)
	if err != nil {
		return nil, err
	}
	own, err := d.createPort("midio in", C.SND_SEQ_PORT_CAP_WRITE|C.SND_SEQ_PORT_CAP_SUBS_WRITE)
	if err != nil {
		return nil, err
	}
	if rc := C.snd_seq_connect_from(d.seq, own, client, port); rc < 0 {
		C.snd_seq_delete_simple_port(d.seq, own)
		if rc == -C.EBUSY {
			return nil, fmt.Errorf("%w: alsa %d:%d", contracts.ErrDeviceBusy, int(client), int(port))
		}
		return nil, alsaError("snd_seq_connect_from", rc)
	}
	return d.newInputHandle(own, recv)
}

func (d *driver) OpenVirtualInput(name string, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	own, err := d.createPort(name, C.SND_SEQ_PORT_CAP_WRITE|C.SND_SEQ_PORT_CAP_SUBS_WRITE)
	if err != nil {
		return nil, err
	}
	return d.newInputHandle(own, recv)
}

// newInputHandle registers the decoder for the pump and starts the pump on
// first use. Callers hold d.mu.
func (d *driver) newInputHandle(own C.int, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	var coder *C.snd_midi_event_t
	if rc := C.snd_midi_event_new(eventBufferSize, &coder); rc < 0 {
		C.snd_seq_delete_simple_port(d.seq, own)
		return nil, alsaError("snd_midi_event_new", rc)
	}
	// Deliver every message whole; no running-status merging on decode.
	C.snd_midi_event_no_status(coder, 1)

	h := &inputHandle{d: d, port: own, coder: coder, recv: recv}
	d.inputs[own] = h
	if d.pumpDone == nil {
		d.pumpDone = make(chan struct{})
		go d.pump(d.pumpDone)
	}
	return h, nil
}

// pump moves sequencer events to the registered receive functions. It polls
// with a timeout so driver close can interrupt it without a wakeup event.
func (d *driver) pump(done chan struct{}) {
	defer close(done)

	npfd := C.snd_seq_poll_descriptors_count(d.seq, C.POLLIN)
	if npfd <= 0 {
		return
	}
	pfds := make([]C.struct_pollfd, npfd)
	C.snd_seq_poll_descriptors(d.seq, &pfds[0], C.uint(npfd), C.POLLIN)

	buf := C.malloc(eventBufferSize)
	defer C.free(buf)

	for {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		if rc := C.poll(&pfds[0], C.nfds_t(npfd), pollTimeoutMs); rc <= 0 {
			continue
		}
		for {
			d.mu.Lock()
			if d.closed {
				d.mu.Unlock()
				return
			}
			var ev *C.snd_seq_event_t
			rc := C.snd_seq_event_input(d.seq, &ev)
			if rc < 0 {
				d.mu.Unlock()
				break // drained (-EAGAIN) or handle failure
			}
			h := d.inputs[C.int(ev.dest.port)]
			if h == nil {
				d.mu.Unlock()
				continue
			}
			// Decode under the lock: a concurrent handle close frees
			// the coder.
			n := C.snd_midi_event_decode(h.coder, (*C.uchar)(buf), eventBufferSize, ev)
			d.mu.Unlock()
			if n <= 0 {
				continue // subscription notices and other non-MIDI events
			}
			h.recv(time.Now(), C.GoBytes(buf, C.int(n)))
		}
	}
}

func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	done := d.pumpDone
	d.mu.Unlock()

	if done != nil {
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if rc := C.snd_seq_close(d.seq); rc < 0 {
		return alsaError("snd_seq_close", rc)
	}
	return nil
}

// setPortName renames an own sequencer port in place. Callers hold d.mu.
func (d *driver) setPortName(port C.int, name string) error {
	var pinfo *C.snd_seq_port_info_t
	C.snd_seq_port_info_malloc(&pinfo)
	defer C.snd_seq_port_info_free(pinfo)
	if rc := C.snd_seq_get_port_info(d.seq, port, pinfo); rc < 0 {
		return alsaError("snd_seq_get_port_info", rc)
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.snd_seq_port_info_set_name(pinfo, cname)
	if rc := C.snd_seq_set_port_info(d.seq, port, pinfo); rc < 0 {
		return alsaError("snd_seq_set_port_info", rc)
	}
	return nil
}

type outputHandle struct {
	d         *driver
	port      C.int
	coder     *C.snd_midi_event_t
	coderSize C.size_t
	closed    bool
}

func (h *outputHandle) Send(data []byte) error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed || h.d.closed {
		return contracts.ErrChannelClosed
	}

	if C.size_t(len(data)) > h.coderSize {
		if rc := C.snd_midi_event_resize_buffer(h.coder, C.size_t(len(data))); rc < 0 {
			return alsaError("snd_midi_event_resize_buffer", rc)
		}
		h.coderSize = C.size_t(len(data))
	}

	cbuf := C.CBytes(data)
	defer C.free(cbuf)

	var ev C.snd_seq_event_t
	C.midio_prepare_event(&ev, C.int(h.port))
	n := C.snd_midi_event_encode(h.coder, (*C.uchar)(cbuf), C.long(len(data)), &ev)
	if n < C.long(len(data)) {
		return fmt.Errorf("%w: alsa encoder consumed %d of %d bytes", contracts.ErrInvalidMessage, int(n), len(data))
	}
	if rc := C.snd_seq_event_output(h.d.seq, &ev); rc < 0 {
		return alsaError("snd_seq_event_output", rc)
	}
	if rc := C.snd_seq_drain_output(h.d.seq); rc < 0 {
		return alsaError("snd_seq_drain_output", rc)
	}
	return nil
}

func (h *outputHandle) SetName(name string) error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed || h.d.closed {
		return contracts.ErrChannelClosed
	}
	return h.d.setPortName(h.port, name)
}

func (h *outputHandle) Close() error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	C.snd_midi_event_free(h.coder)
	if !h.d.closed {
		C.snd_seq_delete_simple_port(h.d.seq, h.port)
	}
	return nil
}

type inputHandle struct {
	d      *driver
	port   C.int
	coder  *C.snd_midi_event_t
	recv   backend.ReceiveFunc
	closed bool
}

func (h *inputHandle) SetName(name string) error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed || h.d.closed {
		return contracts.ErrChannelClosed
	}
	return h.d.setPortName(h.port, name)
}

func (h *inputHandle) Close() error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.d.inputs, h.port)
	C.snd_midi_event_free(h.coder)
	if !h.d.closed {
		C.snd_seq_delete_simple_port(h.d.seq, h.port)
	}
	return nil
}

func alsaError(ctx string, rc C.int) error {
	return fmt.Errorf("%s: %s", ctx, C.GoString(C.snd_strerror(rc)))
}
