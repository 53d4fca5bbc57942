package contracts

// Engine is a selected backend together with its port directory. One Engine
// owns one backend driver handle; channels opened through it own their port
// handles independently and survive the directory being refreshed.
type Engine interface {
	// Backend returns the tag and capability set fixed at selection time.
	Backend() BackendInfo

	// Ports returns the cached enumeration snapshot for one direction,
	// querying the OS on first use. Enumeration order is backend-defined
	// and significant: ordinal-based opens use it. It is not stable
	// across Refresh calls.
	Ports(dir Direction) ([]Port, error)

	// Refresh re-queries the OS and invalidates previously issued
	// ordinals.
	Refresh() error

	// OpenOutput binds an output channel to an enumerated port.
	OpenOutput(port Port) (Output, error)

	// OpenVirtualOutput registers a new virtual output port under the
	// given name. Fails with ErrUnsupportedOperation if the backend
	// lacks CapVirtualPorts.
	OpenVirtualOutput(name string) (Output, error)

	// OpenInput binds an input channel to an enumerated port.
	OpenInput(port Port) (Input, error)

	// OpenVirtualInput registers a new virtual input port under the
	// given name. Fails with ErrUnsupportedOperation if the backend
	// lacks CapVirtualPorts.
	OpenVirtualInput(name string) (Input, error)

	// Close releases the backend driver handle. Enumeration afterwards
	// fails with ErrBackendUnavailable.
	Close() error
}

// Output is an opened (real or virtual) output channel.
//
// Send and SendMessage validate strictly: a data byte with the high bit set
// or a wrong data-byte count is rejected with ErrInvalidMessage. The
// convenience senders instead mask every argument to its defined bit width
// before building the message, preserving the wrapping semantics existing
// device-control scripts rely on. Sends are synchronous up to the backend's
// buffering layer, never waiting for physical transmission.
type Output interface {
	// Send transmits a complete raw message.
	Send(raw []byte) error

	// SendMessage encodes and transmits a structured message.
	SendMessage(msg Message) error

	// NoteOn sends 0x9n with note and velocity masked to 7 bits.
	NoteOn(channel, note, velocity byte) error

	// NoteOff sends 0x8n with note and release velocity masked to 7 bits.
	NoteOff(channel, note, velocity byte) error

	// ControlChange sends 0xBn with controller and value masked to 7 bits.
	ControlChange(channel, controller, value byte) error

	// ProgramChange sends 0xCn with the program masked to 7 bits.
	ProgramChange(channel, program byte) error

	// SetName renames the port in place. Fails with
	// ErrUnsupportedOperation without CapPortRename.
	SetName(name string) error

	// Port returns the enumerated port the channel is bound to, or false
	// for a virtual channel.
	Port() (Port, bool)

	// IsOpen reports whether the channel still holds its port handle.
	IsOpen() bool

	// Close releases the port handle. Closing twice is a no-op.
	Close() error
}

// Input is an opened (real or virtual) input channel.
//
// Delivery is FIFO per channel and runs in one of two mutually exclusive
// modes: pull via Poll, or push via SetCallback. Switching modes flushes any
// queued events. Callbacks execute on the channel's dispatch goroutine, fed
// from the backend's notification thread; handlers must be fast and must not
// Close their own channel (that returns ErrReentrantClose).
type Input interface {
	// SetCallback switches to push delivery, or back to poll delivery
	// when fn is nil. Queued events are discarded on every switch.
	SetCallback(fn func(Event)) error

	// Poll returns the next queued event without blocking. The second
	// result is false when the queue is empty or the channel is in
	// callback mode.
	Poll() (Event, bool)

	// SetName renames the port in place. Fails with
	// ErrUnsupportedOperation without CapPortRename.
	SetName(name string) error

	// Port returns the enumerated port the channel is bound to, or false
	// for a virtual channel.
	Port() (Port, bool)

	// IsOpen reports whether the channel still holds its port handle.
	IsOpen() bool

	// Close blocks until any in-flight delivery for this channel has
	// returned, then releases the port handle. No callback runs after
	// Close returns. Closing twice is a no-op.
	Close() error
}
