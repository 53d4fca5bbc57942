package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/internal/backend/backenddummy"
	"github.com/leandrodaf/midio/internal/logger"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func testOptions() *contracts.ClientOptions {
	lg := logger.NewZapLogger()
	lg.SetLevel(contracts.ErrorLevel)
	return &contracts.ClientOptions{
		Logger:     lg,
		ClientName: "engine test",
		QueueSize:  8,
	}
}

func newTestEngine(t *testing.T, opts *contracts.ClientOptions) *Engine {
	t.Helper()
	backenddummy.Reset()
	driver, err := backenddummy.New(opts)
	require.NoError(t, err)
	e := New(driver, opts)
	t.Cleanup(func() {
		e.Close()
		backenddummy.Reset()
	})
	return e
}

func findPort(t *testing.T, e *Engine, dir contracts.Direction, name string) contracts.Port {
	t.Helper()
	ports, err := e.Ports(dir)
	require.NoError(t, err)
	for _, p := range ports {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("port %q not enumerated", name)
	return contracts.Port{}
}

func TestBackendInfo(t *testing.T) {
	e := newTestEngine(t, testOptions())
	info := e.Backend()
	assert.Equal(t, contracts.BackendDummy, info.Tag)
	assert.True(t, info.Capabilities.Has(contracts.CapVirtualPorts))
	assert.True(t, info.Capabilities.Has(contracts.CapPortRename))
}

func TestPortsSnapshotUntilRefresh(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth in", contracts.DirectionInput)

	ports, err := e.Ports(contracts.DirectionInput)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "synth in", ports[0].Name)

	// A device attached after enumeration stays invisible until an
	// explicit refresh.
	backenddummy.Install("late synth", contracts.DirectionInput)
	ports, err = e.Ports(contracts.DirectionInput)
	require.NoError(t, err)
	assert.Len(t, ports, 1)

	require.NoError(t, e.Refresh())
	ports, err = e.Ports(contracts.DirectionInput)
	require.NoError(t, err)
	assert.Len(t, ports, 2)
}

func TestOpenOutputRejectsInputPort(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth in", contracts.DirectionInput)

	port := findPort(t, e, contracts.DirectionInput, "synth in")
	_, err := e.OpenOutput(port)
	assert.ErrorIs(t, err, contracts.ErrPortNotFound)

	_, err = e.OpenInput(contracts.Port{Direction: contracts.DirectionOutput, Name: "backwards"})
	assert.ErrorIs(t, err, contracts.ErrPortNotFound)
}

func TestOpenOutputStaleOrdinal(t *testing.T) {
	e := newTestEngine(t, testOptions())

	_, err := e.OpenOutput(contracts.Port{Ordinal: 9, Direction: contracts.DirectionOutput, Name: "ghost"})
	assert.ErrorIs(t, err, contracts.ErrPortNotFound)
}

func TestSendStrictValidation(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth out", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "synth out"))
	require.NoError(t, err)

	require.NoError(t, out.Send([]byte{0x90, 0x3C, 0x40}))
	assert.ErrorIs(t, out.Send([]byte{0x90, 0x3C}), contracts.ErrInvalidMessage)
	assert.ErrorIs(t, out.Send([]byte{0x90, 0x80, 0x40}), contracts.ErrInvalidMessage)
	assert.ErrorIs(t, out.Send(nil), contracts.ErrInvalidMessage)

	captured := backenddummy.Captured("synth out")
	require.Len(t, captured, 1)
	assert.Equal(t, []byte{0x90, 0x3C, 0x40}, captured[0])
}

func TestConvenienceSendersMaskTo7Bits(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth out", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "synth out"))
	require.NoError(t, err)

	// 200 & 0x7F == 72: out-of-range values wrap instead of erroring.
	require.NoError(t, out.NoteOn(0, 200, 64))
	require.NoError(t, out.NoteOff(16, 60, 0))
	require.NoError(t, out.ControlChange(1, 128, 255))
	require.NoError(t, out.ProgramChange(2, 130))

	captured := backenddummy.Captured("synth out")
	require.Len(t, captured, 4)
	assert.Equal(t, []byte{0x90, 72, 64}, captured[0])
	assert.Equal(t, []byte{0x80, 60, 0}, captured[1])
	assert.Equal(t, []byte{0xB1, 0x00, 0x7F}, captured[2])
	assert.Equal(t, []byte{0xC2, 2}, captured[3])
}

func TestModulationSweep(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("wavetable", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "wavetable"))
	require.NoError(t, err)

	require.NoError(t, out.NoteOn(0, 60, 112))
	for v := byte(0); v <= 126; v += 2 {
		require.NoError(t, out.ControlChange(0, 1, v))
	}
	require.NoError(t, out.NoteOff(0, 60, 0))

	captured := backenddummy.Captured("wavetable")
	require.Len(t, captured, 66)
	assert.Equal(t, []byte{0x90, 60, 112}, captured[0])
	for i := 0; i < 64; i++ {
		assert.Equal(t, []byte{0xB0, 1, byte(2 * i)}, captured[1+i])
	}
	assert.Equal(t, []byte{0x80, 60, 0}, captured[65])
}

func TestOutputCloseIdempotent(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth out", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "synth out"))
	require.NoError(t, err)

	assert.True(t, out.IsOpen())
	require.NoError(t, out.Close())
	assert.False(t, out.IsOpen())
	require.NoError(t, out.Close())
	assert.ErrorIs(t, out.Send([]byte{0x90, 0x3C, 0x40}), contracts.ErrChannelClosed)
}

func TestOutputRename(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("synth out", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "synth out"))
	require.NoError(t, err)

	require.NoError(t, out.SetName("renamed out"))
	port, enumerated := out.Port()
	assert.True(t, enumerated)
	assert.Equal(t, "renamed out", port.Name)
}

func TestVirtualPortLoopback(t *testing.T) {
	e := newTestEngine(t, testOptions())

	in, err := e.OpenVirtualInput("loop")
	require.NoError(t, err)
	out, err := e.OpenVirtualOutput("loop")
	require.NoError(t, err)

	port, enumerated := in.Port()
	assert.False(t, enumerated)
	assert.True(t, port.Virtual)

	require.NoError(t, out.Send([]byte{0x90, 0x40, 0x50}))
	ev, ok := in.Poll()
	require.True(t, ok)
	require.NoError(t, ev.Err)
	assert.Equal(t, []byte{0x90, 0x40, 0x50}, ev.Message.Bytes)
	assert.Equal(t, contracts.ChannelVoice, ev.Message.Category)
}

// fixedDriver reports a configurable capability set; everything else is
// inert.
type fixedDriver struct {
	caps contracts.CapabilitySet
}

func (d *fixedDriver) Tag() contracts.BackendTag             { return contracts.BackendDummy }
func (d *fixedDriver) Capabilities() contracts.CapabilitySet { return d.caps }

func (d *fixedDriver) Ports(contracts.Direction) ([]contracts.Port, error) {
	return nil, nil
}
func (d *fixedDriver) OpenOutput(uint) (backend.OutputHandle, error) {
	return nil, fmt.Errorf("%w: no ports", contracts.ErrPortNotFound)
}
func (d *fixedDriver) OpenVirtualOutput(string) (backend.OutputHandle, error) {
	return nil, contracts.ErrUnsupportedOperation
}
func (d *fixedDriver) OpenInput(uint, backend.ReceiveFunc) (backend.InputHandle, error) {
	return nil, fmt.Errorf("%w: no ports", contracts.ErrPortNotFound)
}
func (d *fixedDriver) OpenVirtualInput(string, backend.ReceiveFunc) (backend.InputHandle, error) {
	return nil, contracts.ErrUnsupportedOperation
}
func (d *fixedDriver) Close() error { return nil }

func TestVirtualPortsGatedOnCapability(t *testing.T) {
	opts := testOptions()
	e := New(&fixedDriver{caps: 0}, opts)
	defer e.Close()

	_, err := e.OpenVirtualOutput("nope")
	assert.ErrorIs(t, err, contracts.ErrUnsupportedOperation)
	_, err = e.OpenVirtualInput("nope")
	assert.ErrorIs(t, err, contracts.ErrUnsupportedOperation)
}

func TestRenameGatedOnCapability(t *testing.T) {
	opts := testOptions()
	backenddummy.Reset()
	driver, err := backenddummy.New(opts)
	require.NoError(t, err)
	defer backenddummy.Reset()

	backenddummy.Install("fixed name", contracts.DirectionOutput)
	e := New(&capStripDriver{Driver: driver}, opts)
	defer e.Close()

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "fixed name"))
	require.NoError(t, err)
	assert.ErrorIs(t, out.SetName("other"), contracts.ErrUnsupportedOperation)
}

// capStripDriver removes every capability from a real driver.
type capStripDriver struct {
	backend.Driver
}

func (d *capStripDriver) Capabilities() contracts.CapabilitySet { return 0 }

func TestDetachedDeviceSurvivesRefresh(t *testing.T) {
	e := newTestEngine(t, testOptions())
	backenddummy.Install("usb synth", contracts.DirectionOutput)

	out, err := e.OpenOutput(findPort(t, e, contracts.DirectionOutput, "usb synth"))
	require.NoError(t, err)
	require.NoError(t, out.Send([]byte{0x90, 0x3C, 0x40}))

	backenddummy.Detach("usb synth")
	require.NoError(t, e.Refresh())

	ports, err := e.Ports(contracts.DirectionOutput)
	require.NoError(t, err)
	assert.Empty(t, ports)

	// The channel stays open; the device failure surfaces on use.
	assert.True(t, out.IsOpen())
	assert.Error(t, out.Send([]byte{0x90, 0x3C, 0x40}))
	require.NoError(t, out.Close())
}

func TestEngineCloseInvalidatesEverything(t *testing.T) {
	opts := testOptions()
	backenddummy.Reset()
	driver, err := backenddummy.New(opts)
	require.NoError(t, err)
	defer backenddummy.Reset()
	e := New(driver, opts)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err = e.Ports(contracts.DirectionInput)
	assert.ErrorIs(t, err, contracts.ErrBackendUnavailable)
	err = e.Refresh()
	assert.ErrorIs(t, err, contracts.ErrBackendUnavailable)
	_, err = e.OpenVirtualOutput("late")
	assert.ErrorIs(t, err, contracts.ErrBackendUnavailable)
}
