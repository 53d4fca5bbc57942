package contracts

import "errors"

// Error kinds surfaced by the engine. Backend-specific failures are wrapped
// onto these sentinels before crossing the API boundary, so callers can
// match with errors.Is.
var (
	// ErrBackendUnavailable reports that no compiled-in backend matched,
	// or that the backend handle was torn down between calls.
	ErrBackendUnavailable = errors.New("midi backend unavailable")

	// ErrPortNotFound reports that an ordinal or name has no current
	// match in the backend's enumeration.
	ErrPortNotFound = errors.New("midi port not found")

	// ErrDeviceBusy reports that the OS denied an exclusive open.
	ErrDeviceBusy = errors.New("midi device busy")

	// ErrUnsupportedOperation reports a virtual port or rename request on
	// a backend lacking the capability.
	ErrUnsupportedOperation = errors.New("operation not supported by backend")

	// ErrInvalidMessage reports a malformed byte sequence: wrong data
	// byte count, out-of-range data byte, or a broken SysEx bracket.
	ErrInvalidMessage = errors.New("invalid midi message")

	// ErrChannelClosed reports an operation on a closed channel.
	ErrChannelClosed = errors.New("midi channel closed")

	// ErrReentrantClose reports a Close issued from inside the channel's
	// own delivery callback, which would otherwise deadlock.
	ErrReentrantClose = errors.New("close called from channel callback")
)
