package contracts

import "time"

// Category classifies a MIDI message by its status byte.
type Category int

const (
	// ChannelVoice covers note, aftertouch, controller, program and pitch
	// bend messages on a specific channel (status 0x80-0xEF).
	ChannelVoice Category = iota
	// ChannelMode covers controller messages with controller numbers 120
	// and above, which change channel behaviour rather than a sound.
	ChannelMode
	// SystemCommon covers 0xF1-0xF6.
	SystemCommon
	// SystemRealtime covers the single-byte 0xF8-0xFF messages, which may
	// interleave with any other message on the wire.
	SystemRealtime
	// SystemExclusive covers the variable-length 0xF0 ... 0xF7 messages.
	SystemExclusive
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case ChannelVoice:
		return "channel voice"
	case ChannelMode:
		return "channel mode"
	case SystemCommon:
		return "system common"
	case SystemRealtime:
		return "system realtime"
	case SystemExclusive:
		return "system exclusive"
	}
	return "unknown"
}

// Message is one decoded MIDI message. Messages are immutable value objects.
//
// Delta is the time since the previous message on the same channel, zero for
// the first message. Bytes always holds the full wire form; for a
// SystemExclusive message that means the complete reassembled sequence from
// 0xF0 through the terminating 0xF7, regardless of how the backend
// fragmented it on delivery.
type Message struct {
	Delta    time.Duration
	Bytes    []byte
	Category Category
}

// Status returns the status byte, or zero for an empty message.
func (m Message) Status() byte {
	if len(m.Bytes) == 0 {
		return 0
	}
	return m.Bytes[0]
}

// Channel returns the 0-based channel number for channel voice and channel
// mode messages, and false otherwise. User-facing surfaces conventionally
// present channels 1-based and must convert.
func (m Message) Channel() (byte, bool) {
	s := m.Status()
	if s < 0x80 || s >= 0xF0 {
		return 0, false
	}
	return s & 0x0F, true
}

// Event is one delivery from an input channel: either a message or an error
// captured on the backend notification thread (a malformed or aborted byte
// sequence). Errors share the delivery queue so consumers observe them in
// FIFO position relative to surrounding messages.
type Event struct {
	Message Message
	Err     error
}
