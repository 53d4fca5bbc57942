// Package backend defines the driver contract every compiled-in MIDI
// subsystem implements, and the process-wide registry the engine selects
// from at startup.
package backend

import (
	"time"

	"github.com/leandrodaf/midio/sdk/contracts"
)

// ReceiveFunc is invoked from the backend's own notification thread with the
// arrival time and the raw bytes of one delivery. Deliveries may fragment
// messages (System Exclusive in particular); the engine reassembles them.
type ReceiveFunc func(when time.Time, data []byte)

// Driver is one OS MIDI subsystem bound to a client handle. A Driver serves
// exactly one engine; enumeration and opens race only with its own Close.
type Driver interface {
	// Tag identifies the subsystem.
	Tag() contracts.BackendTag

	// Capabilities returns the capability set fixed at probe time.
	Capabilities() contracts.CapabilitySet

	// Ports enumerates the subsystem's current ports for one direction,
	// in the order the OS reports them.
	Ports(dir contracts.Direction) ([]contracts.Port, error)

	// OpenOutput opens the port at the given enumeration ordinal.
	OpenOutput(ordinal uint) (OutputHandle, error)

	// OpenVirtualOutput registers a new virtual output port.
	OpenVirtualOutput(name string) (OutputHandle, error)

	// OpenInput opens the port at the given enumeration ordinal and
	// starts delivering its bytes to recv.
	OpenInput(ordinal uint, recv ReceiveFunc) (InputHandle, error)

	// OpenVirtualInput registers a new virtual input port delivering to
	// recv.
	OpenVirtualInput(name string, recv ReceiveFunc) (InputHandle, error)

	// Close releases the client handle. Open port handles become dead.
	Close() error
}

// Handle is one open OS-level port handle, exclusively owned by a channel.
type Handle interface {
	// SetName renames the port in place where the subsystem allows it.
	SetName(name string) error

	// Close releases the handle and, for virtual ports, deregisters the
	// port from the subsystem.
	Close() error
}

// OutputHandle sends raw bytes to an open output port. Send returns once the
// subsystem's buffering layer has accepted the bytes.
type OutputHandle interface {
	Handle
	Send(data []byte) error
}

// InputHandle is an open input port. Delivery stops when it is closed; the
// subsystem must not invoke the port's ReceiveFunc after Close returns.
type InputHandle interface {
	Handle
}
