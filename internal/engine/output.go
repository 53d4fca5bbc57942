package engine

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/midio/internal/backend"
	"github.com/leandrodaf/midio/internal/codec"
	"github.com/leandrodaf/midio/sdk/contracts"
)

// Output is an opened output channel. Raw sends validate strictly through
// the codec; the convenience senders mask their arguments to 7 bits first,
// matching the wrapping semantics existing device-control scripts expect.
type Output struct {
	logger  contracts.Logger
	port    contracts.Port
	virtual bool
	caps    contracts.CapabilitySet

	mu     sync.Mutex
	handle backend.OutputHandle
	closed bool
}

func newOutput(logger contracts.Logger, handle backend.OutputHandle, port contracts.Port, virtual bool, caps contracts.CapabilitySet) *Output {
	return &Output{
		logger:  logger,
		port:    port,
		virtual: virtual,
		caps:    caps,
		handle:  handle,
	}
}

// Send validates and transmits a complete raw message. It returns once the
// backend's buffering layer has accepted the bytes, never waiting for
// physical transmission.
func (o *Output) Send(raw []byte) error {
	if _, err := codec.Decode(raw); err != nil {
		return err
	}
	return o.sendRaw(raw)
}

// SendMessage encodes and transmits a structured message.
func (o *Output) SendMessage(msg contracts.Message) error {
	raw, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	return o.sendRaw(raw)
}

// NoteOn sends 0x9n with note and velocity masked to 7 bits.
func (o *Output) NoteOn(channel, note, velocity byte) error {
	return o.sendRaw([]byte{0x90 | channel&0x0F, note & 0x7F, velocity & 0x7F})
}

// NoteOff sends 0x8n with note and release velocity masked to 7 bits.
func (o *Output) NoteOff(channel, note, velocity byte) error {
	return o.sendRaw([]byte{0x80 | channel&0x0F, note & 0x7F, velocity & 0x7F})
}

// ControlChange sends 0xBn with controller and value masked to 7 bits.
func (o *Output) ControlChange(channel, controller, value byte) error {
	return o.sendRaw([]byte{0xB0 | channel&0x0F, controller & 0x7F, value & 0x7F})
}

// ProgramChange sends 0xCn with the program masked to 7 bits.
func (o *Output) ProgramChange(channel, program byte) error {
	return o.sendRaw([]byte{0xC0 | channel&0x0F, program & 0x7F})
}

func (o *Output) sendRaw(raw []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return contracts.ErrChannelClosed
	}
	return o.handle.Send(raw)
}

// SetName renames the port in place.
func (o *Output) SetName(name string) error {
	if !o.caps.Has(contracts.CapPortRename) {
		return fmt.Errorf("%w: %s backend cannot rename ports", contracts.ErrUnsupportedOperation, o.port.Backend)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return contracts.ErrChannelClosed
	}
	if err := o.handle.SetName(name); err != nil {
		return err
	}
	o.port.Name = name
	return nil
}

// Port returns the enumerated port the channel is bound to, or false for a
// virtual channel.
func (o *Output) Port() (contracts.Port, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.port, !o.virtual
}

// IsOpen reports whether the channel still holds its port handle.
func (o *Output) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed
}

// Close releases the port handle. Closing twice is a no-op.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	err := o.handle.Close()
	o.logger.Debug("output closed", o.logger.Field().String("port", o.port.Name))
	return err
}
