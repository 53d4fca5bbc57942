// Package codec translates between raw MIDI byte sequences and structured
// messages. It is stateless apart from Stream, which reassembles System
// Exclusive data delivered in arbitrary fragments.
package codec

import (
	"fmt"

	"github.com/leandrodaf/midio/sdk/contracts"
)

// Well-known status bytes.
const (
	StatusSysExStart   = 0xF0
	StatusSysExEnd     = 0xF7
	StatusTimeCode     = 0xF1
	StatusSongPosition = 0xF2
	StatusSongSelect   = 0xF3
	StatusTuneRequest  = 0xF6
	StatusClock        = 0xF8
	StatusActiveSense  = 0xFE

	// Controller numbers 120-127 are channel mode messages.
	firstModeController = 120
)

// IsStatus reports whether b is a status byte.
func IsStatus(b byte) bool { return b >= 0x80 }

// IsRealtime reports whether b is a single-byte system realtime status.
// Realtime bytes may interleave with any other message on the wire,
// including the middle of a SysEx.
func IsRealtime(b byte) bool { return b >= 0xF8 }

// DataLength returns the number of data bytes that follow the given status
// byte. SysEx has no fixed length and is rejected here; realtime statuses
// have zero data bytes.
func DataLength(status byte) (int, error) {
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 2, nil
	case 0xC0, 0xD0:
		return 1, nil
	case 0xF0:
		switch status {
		case StatusTimeCode, StatusSongSelect:
			return 1, nil
		case StatusSongPosition:
			return 2, nil
		case StatusTuneRequest:
			return 0, nil
		case StatusSysExStart, StatusSysExEnd:
			return 0, fmt.Errorf("%w: system exclusive has no fixed length", contracts.ErrInvalidMessage)
		default:
			if IsRealtime(status) {
				return 0, nil
			}
			return 0, fmt.Errorf("%w: undefined status byte 0x%02X", contracts.ErrInvalidMessage, status)
		}
	}
	return 0, fmt.Errorf("%w: 0x%02X is not a status byte", contracts.ErrInvalidMessage, status)
}

// Classify returns the category of a message starting with the given status
// byte. Controller messages need the controller number to tell channel mode
// from channel voice, so callers with data bytes in hand should prefer
// Decode.
func Classify(status byte) contracts.Category {
	switch {
	case status < 0xF0:
		return contracts.ChannelVoice
	case status == StatusSysExStart || status == StatusSysExEnd:
		return contracts.SystemExclusive
	case status < 0xF8:
		return contracts.SystemCommon
	default:
		return contracts.SystemRealtime
	}
}

// Decode validates a complete raw message and returns its structured form.
// It is strict: data bytes must have the high bit clear, the data byte count
// must match the status, and a SysEx must carry both its 0xF0 and 0xF7
// brackets. Delta is left zero; input channels attach it at delivery.
func Decode(raw []byte) (contracts.Message, error) {
	var m contracts.Message
	if len(raw) == 0 {
		return m, fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	status := raw[0]
	if !IsStatus(status) {
		return m, fmt.Errorf("%w: leading byte 0x%02X is not a status byte", contracts.ErrInvalidMessage, status)
	}

	if status == StatusSysExStart {
		if len(raw) < 2 || raw[len(raw)-1] != StatusSysExEnd {
			return m, fmt.Errorf("%w: system exclusive missing 0xF7 terminator", contracts.ErrInvalidMessage)
		}
		for i, b := range raw[1 : len(raw)-1] {
			if IsStatus(b) {
				return m, fmt.Errorf("%w: status byte 0x%02X inside system exclusive at offset %d", contracts.ErrInvalidMessage, b, i+1)
			}
		}
		m.Bytes = append([]byte(nil), raw...)
		m.Category = contracts.SystemExclusive
		return m, nil
	}

	n, err := DataLength(status)
	if err != nil {
		return m, err
	}
	if len(raw)-1 != n {
		return m, fmt.Errorf("%w: status 0x%02X wants %d data bytes, got %d", contracts.ErrInvalidMessage, status, n, len(raw)-1)
	}
	for _, b := range raw[1:] {
		if IsStatus(b) {
			return m, fmt.Errorf("%w: data byte 0x%02X out of range", contracts.ErrInvalidMessage, b)
		}
	}

	m.Bytes = append([]byte(nil), raw...)
	m.Category = Classify(status)
	if m.Category == contracts.ChannelVoice && status&0xF0 == 0xB0 && raw[1] >= firstModeController {
		m.Category = contracts.ChannelMode
	}
	return m, nil
}

// Encode is the inverse of Decode for well-formed messages: it re-validates
// the byte sequence and returns a copy of the wire form.
func Encode(m contracts.Message) ([]byte, error) {
	checked, err := Decode(m.Bytes)
	if err != nil {
		return nil, err
	}
	return checked.Bytes, nil
}
