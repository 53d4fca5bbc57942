package contracts

// Direction distinguishes MIDI sources from MIDI sinks.
type Direction int

const (
	// DirectionInput enumerates ports the engine can receive from.
	DirectionInput Direction = iota
	// DirectionOutput enumerates ports the engine can send to.
	DirectionOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirectionInput {
		return "input"
	}
	return "output"
}

// Port describes one enumerated MIDI endpoint. Ports are read-only value
// objects: they carry no OS handle and stay valid as descriptions even after
// the device they name has gone away.
//
// Ordinals index the enumeration snapshot they were produced by. A refresh
// may reorder or drop ordinals if devices changed; callers that cache Ports
// across refreshes must be prepared for ErrPortNotFound on open.
type Port struct {
	Ordinal   uint
	Name      string
	Direction Direction
	Backend   BackendTag
	Virtual   bool
}
