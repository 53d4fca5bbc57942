package contracts

// BackendTag identifies one of the compiled-in MIDI subsystems.
type BackendTag int

const (
	// BackendALSA is the Linux ALSA sequencer backend.
	BackendALSA BackendTag = iota
	// BackendJACK is the JACK MIDI backend (Linux and macOS).
	BackendJACK
	// BackendCoreMIDI is the macOS CoreMIDI backend.
	BackendCoreMIDI
	// BackendWinMM is the Windows multimedia MIDI backend.
	BackendWinMM
	// BackendDummy is the in-process loopback backend used when no
	// platform backend is compiled in, and by tests.
	BackendDummy
)

// String returns the conventional name of the backend.
func (t BackendTag) String() string {
	switch t {
	case BackendALSA:
		return "alsa"
	case BackendJACK:
		return "jack"
	case BackendCoreMIDI:
		return "coremidi"
	case BackendWinMM:
		return "winmm"
	case BackendDummy:
		return "dummy"
	}
	return "unknown"
}

// CapabilitySet is a bit set of backend capabilities. The set is fixed when
// the backend is probed at selection time and never changes afterwards.
type CapabilitySet uint8

const (
	// CapVirtualPorts indicates the backend can register software-only
	// ports visible to other MIDI applications.
	CapVirtualPorts CapabilitySet = 1 << iota
	// CapPortRename indicates open ports can be renamed in place.
	CapPortRename
	// CapHotplugNotification indicates the OS notifies the backend about
	// device attach/detach.
	CapHotplugNotification
)

// Has reports whether every capability in c is present in the set.
func (s CapabilitySet) Has(c CapabilitySet) bool {
	return s&c == c
}

// BackendInfo describes the backend an engine was bound to.
type BackendInfo struct {
	Tag          BackendTag
	Capabilities CapabilitySet
}
