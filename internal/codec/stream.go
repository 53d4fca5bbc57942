package codec

import (
	"fmt"

	"github.com/leandrodaf/midio/sdk/contracts"
)

// Stream parses a raw MIDI byte stream delivered in arbitrary chunks, the
// way backend callbacks hand it over. It reassembles fragmented System
// Exclusive data and tolerates realtime bytes interleaved anywhere,
// including inside a SysEx in progress.
//
// A Stream is not safe for concurrent use; each input channel owns one and
// feeds it from the backend notification thread only.
type Stream struct {
	sysex   []byte // accumulating SysEx, nil when idle
	pending []byte // partial fixed-length message awaiting data bytes
	want    int    // data bytes still missing from pending
}

// NewStream returns an empty parser.
func NewStream() *Stream {
	return &Stream{}
}

// Feed consumes one chunk and returns the events it completed, in wire
// order. Malformed input (an aborted SysEx, a truncated message, a stray
// data byte) is reported as an error event in sequence position; parsing
// continues with the next byte.
func (s *Stream) Feed(chunk []byte) []contracts.Event {
	var out []contracts.Event
	for _, b := range chunk {
		out = s.feedByte(out, b)
	}
	return out
}

func (s *Stream) feedByte(out []contracts.Event, b byte) []contracts.Event {
	if IsRealtime(b) {
		// Realtime bytes jump the queue without disturbing whatever
		// message they interrupted.
		return append(out, contracts.Event{Message: contracts.Message{
			Bytes:    []byte{b},
			Category: contracts.SystemRealtime,
		}})
	}

	if s.sysex != nil {
		switch {
		case b == StatusSysExEnd:
			s.sysex = append(s.sysex, b)
			msg, err := Decode(s.sysex)
			s.sysex = nil
			if err != nil {
				return append(out, contracts.Event{Err: err})
			}
			return append(out, contracts.Event{Message: msg})
		case IsStatus(b):
			// Any non-realtime status aborts the SysEx in progress.
			out = append(out, contracts.Event{Err: fmt.Errorf(
				"%w: system exclusive aborted by status 0x%02X after %d bytes",
				contracts.ErrInvalidMessage, b, len(s.sysex))})
			s.sysex = nil
			return s.startStatus(out, b)
		default:
			s.sysex = append(s.sysex, b)
			return out
		}
	}

	if IsStatus(b) {
		if s.pending != nil {
			out = append(out, contracts.Event{Err: fmt.Errorf(
				"%w: message 0x%02X truncated after %d bytes",
				contracts.ErrInvalidMessage, s.pending[0], len(s.pending))})
			s.pending = nil
			s.want = 0
		}
		return s.startStatus(out, b)
	}

	// Data byte.
	if s.pending == nil {
		return append(out, contracts.Event{Err: fmt.Errorf(
			"%w: data byte 0x%02X with no status context", contracts.ErrInvalidMessage, b)})
	}
	s.pending = append(s.pending, b)
	s.want--
	if s.want > 0 {
		return out
	}
	msg, err := Decode(s.pending)
	s.pending = nil
	if err != nil {
		return append(out, contracts.Event{Err: err})
	}
	return append(out, contracts.Event{Message: msg})
}

func (s *Stream) startStatus(out []contracts.Event, b byte) []contracts.Event {
	if b == StatusSysExStart {
		s.sysex = []byte{b}
		return out
	}
	n, err := DataLength(b)
	if err != nil {
		// 0xF7 with no 0xF0 in progress, or an undefined status.
		return append(out, contracts.Event{Err: err})
	}
	if n == 0 {
		msg, derr := Decode([]byte{b})
		if derr != nil {
			return append(out, contracts.Event{Err: derr})
		}
		return append(out, contracts.Event{Message: msg})
	}
	s.pending = append(s.pending[:0], b)
	s.want = n
	return out
}

// Reset drops any partial state, as when the channel it feeds is reopened.
func (s *Stream) Reset() {
	s.sysex = nil
	s.pending = nil
	s.want = 0
}
