//go:build windows && !nowinmm

package backendwinmm

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func init() {
	backend.Register(contracts.BackendWinMM, New)
}

const (
	callbackFunction = 0x00030000
	callbackNull     = 0x00000000

	mimOpen      = 0x3C1
	mimClose     = 0x3C2
	mimData      = 0x3C3
	mimLongData  = 0x3C4
	mimError     = 0x3C5
	mimLongError = 0x3C6

	mhdrDone     = 0x00000001
	mhdrPrepared = 0x00000002

	mmsyserrNoError   = 0
	mmsyserrAllocated = 4

	// SysEx receive buffers, matching the sizes WinMM apps conventionally
	// re-queue.
	sysexBufferCount = 4
	sysexBufferSize  = 1024
)

var (
	winmm                   = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs    = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps    = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen          = winmm.NewProc("midiInOpen")
	procMidiInStart         = winmm.NewProc("midiInStart")
	procMidiInStop          = winmm.NewProc("midiInStop")
	procMidiInReset         = winmm.NewProc("midiInReset")
	procMidiInClose         = winmm.NewProc("midiInClose")
	procMidiInPrepareHdr    = winmm.NewProc("midiInPrepareHeader")
	procMidiInUnprepareHdr  = winmm.NewProc("midiInUnprepareHeader")
	procMidiInAddBuffer     = winmm.NewProc("midiInAddBuffer")
	procMidiOutGetNumDevs   = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps   = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen         = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg     = winmm.NewProc("midiOutShortMsg")
	procMidiOutLongMsg      = winmm.NewProc("midiOutLongMsg")
	procMidiOutPrepareHdr   = winmm.NewProc("midiOutPrepareHeader")
	procMidiOutUnprepareHdr = winmm.NewProc("midiOutUnprepareHeader")
	procMidiOutReset        = winmm.NewProc("midiOutReset")
	procMidiOutClose        = winmm.NewProc("midiOutClose")
)

type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

type midiHdr struct {
	lpData          uintptr
	dwBufferLength  uint32
	dwBytesRecorded uint32
	dwUser          uintptr
	dwFlags         uint32
	lpNext          uintptr
	reserved        uintptr
	dwOffset        uint32
	dwReserved      [8]uintptr
}

// The input callback receives an instance word we choose at midiInOpen time.
// A pointer would be invisible to the garbage collector on the way back, so
// handles are parked in a registry under small integer keys instead.
var (
	registryMu sync.Mutex
	registry   = map[uintptr]*inputHandle{}
	nextKey    uintptr

	inputCallback = windows.NewCallback(midiInProc)
)

func registerHandle(h *inputHandle) uintptr {
	registryMu.Lock()
	defer registryMu.Unlock()
	nextKey++
	registry[nextKey] = h
	return nextKey
}

func lookupHandle(key uintptr) *inputHandle {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[key]
}

func unregisterHandle(key uintptr) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, key)
}

type driver struct {
	logger contracts.Logger

	mu     sync.Mutex
	closed bool
}

func New(opts *contracts.ClientOptions) (backend.Driver, error) {
	if err := winmm.Load(); err != nil {
		return nil, fmt.Errorf("winmm.dll unavailable: %w", err)
	}
	return &driver{logger: opts.Logger}, nil
}

func (d *driver) Tag() contracts.BackendTag { return contracts.BackendWinMM }

// WinMM has no virtual ports and device names are fixed by the driver.
func (d *driver) Capabilities() contracts.CapabilitySet { return 0 }

func (d *driver) Ports(dir contracts.Direction) ([]contracts.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	var out []contracts.Port
	switch dir {
	case contracts.DirectionInput:
		n, _, _ := procMidiInGetNumDevs.Call()
		for i := uintptr(0); i < n; i++ {
			var caps midiInCaps
			rc, _, _ := procMidiInGetDevCaps.Call(i, uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
			if rc != mmsyserrNoError {
				d.logger.Warn("midiInGetDevCaps failed",
					d.logger.Field().Int("device", int(i)))
				continue
			}
			out = append(out, contracts.Port{
				Ordinal:   uint(i),
				Name:      windows.UTF16ToString(caps.szPname[:]),
				Direction: dir,
				Backend:   contracts.BackendWinMM,
			})
		}
	case contracts.DirectionOutput:
		n, _, _ := procMidiOutGetNumDevs.Call()
		for i := uintptr(0); i < n; i++ {
			var caps midiOutCaps
			rc, _, _ := procMidiOutGetDevCaps.Call(i, uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
			if rc != mmsyserrNoError {
				d.logger.Warn("midiOutGetDevCaps failed",
					d.logger.Field().Int("device", int(i)))
				continue
			}
			out = append(out, contracts.Port{
				Ordinal:   uint(i),
				Name:      windows.UTF16ToString(caps.szPname[:]),
				Direction: dir,
				Backend:   contracts.BackendWinMM,
			})
		}
	}
	return out, nil
}

func mmError(call string, rc uintptr) error {
	if rc == mmsyserrAllocated {
		return fmt.Errorf("%w: %s (MMSYSERR_ALLOCATED)", contracts.ErrDeviceBusy, call)
	}
	return fmt.Errorf("%s failed (mmsyserr %d)", call, rc)
}

func (d *driver) OpenOutput(ordinal uint) (backend.OutputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	n, _, _ := procMidiOutGetNumDevs.Call()
	if uintptr(ordinal) >= n {
		return nil, fmt.Errorf("%w: winmm output device %d of %d", contracts.ErrPortNotFound, ordinal, n)
	}
	var handle windows.Handle
	rc, _, _ := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&handle)),
		uintptr(ordinal),
		0,
		0,
		callbackNull,
	)
	if rc != mmsyserrNoError {
		return nil, mmError("midiOutOpen", rc)
	}
	return &outputHandle{handle: handle}, nil
}

func (d *driver) OpenVirtualOutput(string) (backend.OutputHandle, error) {
	return nil, fmt.Errorf("%w: winmm has no virtual ports", contracts.ErrUnsupportedOperation)
}

func (d *driver) OpenInput(ordinal uint, recv backend.ReceiveFunc) (backend.InputHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, contracts.ErrBackendUnavailable
	}
	n, _, _ := procMidiInGetNumDevs.Call()
	if uintptr(ordinal) >= n {
		return nil, fmt.Errorf("%w: winmm input device %d of %d", contracts.ErrPortNotFound, ordinal, n)
	}

	h := &inputHandle{logger: d.logger, recv: recv}
	h.key = registerHandle(h)

	rc, _, _ := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&h.handle)),
		uintptr(ordinal),
		inputCallback,
		h.key,
		callbackFunction,
	)
	if rc != mmsyserrNoError {
		unregisterHandle(h.key)
		return nil, mmError("midiInOpen", rc)
	}

	if err := h.queueSysexBuffers(); err != nil {
		procMidiInClose.Call(uintptr(h.handle))
		unregisterHandle(h.key)
		return nil, err
	}

	if rc, _, _ := procMidiInStart.Call(uintptr(h.handle)); rc != mmsyserrNoError {
		procMidiInReset.Call(uintptr(h.handle))
		procMidiInClose.Call(uintptr(h.handle))
		unregisterHandle(h.key)
		return nil, mmError("midiInStart", rc)
	}
	return h, nil
}

func (d *driver) OpenVirtualInput(string, backend.ReceiveFunc) (backend.InputHandle, error) {
	return nil, fmt.Errorf("%w: winmm has no virtual ports", contracts.ErrUnsupportedOperation)
}

func (d *driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

type outputHandle struct {
	mu     sync.Mutex
	closed bool
	handle windows.Handle
}

func (h *outputHandle) Send(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return contracts.ErrChannelClosed
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) <= 3 && data[0] != 0xF0 {
		return h.sendShort(data)
	}
	return h.sendLong(data)
}

func (h *outputHandle) sendShort(data []byte) error {
	var packed uintptr
	for i, b := range data {
		packed |= uintptr(b) << (8 * i)
	}
	rc, _, _ := procMidiOutShortMsg.Call(uintptr(h.handle), packed)
	if rc != mmsyserrNoError {
		return mmError("midiOutShortMsg", rc)
	}
	return nil
}

// sendLong pushes a SysEx buffer through a prepared MIDIHDR and polls for
// completion. WinMM signals MHDR_DONE once the driver has consumed the bytes.
func (h *outputHandle) sendLong(data []byte) error {
	buf := append([]byte(nil), data...)
	hdr := &midiHdr{
		lpData:         uintptr(unsafe.Pointer(&buf[0])),
		dwBufferLength: uint32(len(buf)),
	}
	rc, _, _ := procMidiOutPrepareHdr.Call(uintptr(h.handle), uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
	if rc != mmsyserrNoError {
		return mmError("midiOutPrepareHeader", rc)
	}
	defer procMidiOutUnprepareHdr.Call(uintptr(h.handle), uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))

	rc, _, _ = procMidiOutLongMsg.Call(uintptr(h.handle), uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
	if rc != mmsyserrNoError {
		return mmError("midiOutLongMsg", rc)
	}
	for hdr.dwFlags&mhdrDone == 0 {
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (h *outputHandle) SetName(string) error {
	return fmt.Errorf("%w: winmm does not rename devices", contracts.ErrUnsupportedOperation)
}

func (h *outputHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	procMidiOutReset.Call(uintptr(h.handle))
	if rc, _, _ := procMidiOutClose.Call(uintptr(h.handle)); rc != mmsyserrNoError {
		return mmError("midiOutClose", rc)
	}
	return nil
}

type inputHandle struct {
	logger contracts.Logger
	recv   backend.ReceiveFunc
	handle windows.Handle
	key    uintptr

	mu      sync.Mutex
	closed  bool
	buffers []*sysexBuffer
}

type sysexBuffer struct {
	data []byte
	hdr  *midiHdr
}

// queueSysexBuffers hands the driver a ring of long-message buffers. Without
// queued buffers WinMM silently discards every SysEx.
func (h *inputHandle) queueSysexBuffers() error {
	for i := 0; i < sysexBufferCount; i++ {
		b := &sysexBuffer{data: make([]byte, sysexBufferSize)}
		b.hdr = &midiHdr{
			lpData:         uintptr(unsafe.Pointer(&b.data[0])),
			dwBufferLength: sysexBufferSize,
		}
		rc, _, _ := procMidiInPrepareHdr.Call(uintptr(h.handle), uintptr(unsafe.Pointer(b.hdr)), unsafe.Sizeof(*b.hdr))
		if rc != mmsyserrNoError {
			return mmError("midiInPrepareHeader", rc)
		}
		rc, _, _ = procMidiInAddBuffer.Call(uintptr(h.handle), uintptr(unsafe.Pointer(b.hdr)), unsafe.Sizeof(*b.hdr))
		if rc != mmsyserrNoError {
			return mmError("midiInAddBuffer", rc)
		}
		h.buffers = append(h.buffers, b)
	}
	return nil
}

// midiInProc runs on WinMM's callback thread for every input handle.
func midiInProc(hMidiIn, wMsg, dwInstance, dwParam1, dwParam2 uintptr) uintptr {
	h := lookupHandle(dwInstance)
	if h == nil {
		return 0
	}

	switch wMsg {
	case mimOpen, mimClose:
	case mimData:
		h.shortMessage(dwParam1)
	case mimLongData:
		h.longMessage(dwParam1)
	case mimError, mimLongError:
		h.logger.Warn("winmm input error",
			h.logger.Field().Uint64("message", uint64(wMsg)))
	}
	return 0
}

func (h *inputHandle) shortMessage(packed uintptr) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	recv := h.recv
	h.mu.Unlock()

	status := byte(packed & 0xFF)
	data := []byte{status, byte(packed >> 8 & 0xFF), byte(packed >> 16 & 0xFF)}
	// WinMM always packs three bytes; trim to the status byte's real length.
	switch {
	case status >= 0xF8:
		data = data[:1]
	case status&0xF0 == 0xC0 || status&0xF0 == 0xD0 || status == 0xF1 || status == 0xF3:
		data = data[:2]
	case status == 0xF6:
		data = data[:1]
	}
	recv(time.Now(), data)
}

// longMessage delivers a filled SysEx buffer and hands it back to the driver.
func (h *inputHandle) longMessage(param uintptr) {
	hdr := (*midiHdr)(unsafe.Pointer(param))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	recv := h.recv
	var owner *sysexBuffer
	for _, b := range h.buffers {
		if b.hdr == hdr {
			owner = b
			break
		}
	}
	h.mu.Unlock()

	if owner == nil || hdr.dwBytesRecorded == 0 {
		return
	}
	data := append([]byte(nil), owner.data[:hdr.dwBytesRecorded]...)
	recv(time.Now(), data)

	hdr.dwBytesRecorded = 0
	procMidiInAddBuffer.Call(uintptr(h.handle), uintptr(unsafe.Pointer(hdr)), unsafe.Sizeof(*hdr))
}

func (h *inputHandle) SetName(string) error {
	return fmt.Errorf("%w: winmm does not rename devices", contracts.ErrUnsupportedOperation)
}

func (h *inputHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	buffers := h.buffers
	h.buffers = nil
	h.mu.Unlock()

	procMidiInStop.Call(uintptr(h.handle))
	// Reset returns the queued SysEx buffers before the handle closes.
	procMidiInReset.Call(uintptr(h.handle))
	for _, b := range buffers {
		procMidiInUnprepareHdr.Call(uintptr(h.handle), uintptr(unsafe.Pointer(b.hdr)), unsafe.Sizeof(*b.hdr))
	}
	rc, _, _ := procMidiInClose.Call(uintptr(h.handle))
	unregisterHandle(h.key)
	if rc != mmsyserrNoError {
		return mmError("midiInClose", rc)
	}
	return nil
}
