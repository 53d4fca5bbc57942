package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midio/internal/codec"
	"github.com/leandrodaf/midio/sdk/contracts"
)

func TestDecodeChannelVoice(t *testing.T) {
	cases := []struct {
		name     string
		raw      []byte
		category contracts.Category
		channel  byte
	}{
		{"note off", []byte{0x81, 0x3C, 0x40}, contracts.ChannelVoice, 1},
		{"note on", []byte{0x90, 0x3C, 0x64}, contracts.ChannelVoice, 0},
		{"poly aftertouch", []byte{0xA5, 0x10, 0x20}, contracts.ChannelVoice, 5},
		{"control change", []byte{0xB0, 0x01, 0x7F}, contracts.ChannelVoice, 0},
		{"program change", []byte{0xCF, 0x05}, contracts.ChannelVoice, 15},
		{"channel aftertouch", []byte{0xD2, 0x33}, contracts.ChannelVoice, 2},
		{"pitch bend", []byte{0xE0, 0x00, 0x40}, contracts.ChannelVoice, 0},
		{"all notes off is channel mode", []byte{0xB3, 0x7B, 0x00}, contracts.ChannelMode, 3},
		{"reset all controllers is channel mode", []byte{0xB0, 0x79, 0x00}, contracts.ChannelMode, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m, err := codec.Decode(c.raw)
			require.NoError(t, err)
			assert.Equal(t, c.category, m.Category)
			assert.Equal(t, c.raw, m.Bytes)
			ch, ok := m.Channel()
			require.True(t, ok)
			assert.Equal(t, c.channel, ch)
		})
	}
}

func TestDecodeSystem(t *testing.T) {
	m, err := codec.Decode([]byte{0xF8})
	require.NoError(t, err)
	assert.Equal(t, contracts.SystemRealtime, m.Category)
	_, ok := m.Channel()
	assert.False(t, ok)

	m, err = codec.Decode([]byte{0xF2, 0x00, 0x40})
	require.NoError(t, err)
	assert.Equal(t, contracts.SystemCommon, m.Category)

	m, err = codec.Decode([]byte{0xF0, 0x43, 0x12, 0x00, 0xF7})
	require.NoError(t, err)
	assert.Equal(t, contracts.SystemExclusive, m.Category)
	assert.Equal(t, byte(0xF0), m.Bytes[0])
	assert.Equal(t, byte(0xF7), m.Bytes[len(m.Bytes)-1])
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"data byte first", []byte{0x3C, 0x40}},
		{"note on short", []byte{0x90, 0x3C}},
		{"note on long", []byte{0x90, 0x3C, 0x40, 0x40}},
		{"data byte out of range", []byte{0x90, 0x3C, 0x80}},
		{"sysex without terminator", []byte{0xF0, 0x43, 0x12}},
		{"sysex with inner status", []byte{0xF0, 0x43, 0x90, 0xF7}},
		{"lone sysex end", []byte{0xF7}},
		{"undefined status", []byte{0xF4}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := codec.Decode(c.raw)
			assert.ErrorIs(t, err, contracts.ErrInvalidMessage)
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Every valid note on/off and control change triple survives a round
	// trip unchanged.
	for _, status := range []byte{0x80, 0x90, 0xB0} {
		for ch := byte(0); ch < 16; ch++ {
			for _, d1 := range []byte{0, 1, 60, 127} {
				for _, d2 := range []byte{0, 64, 127} {
					raw := []byte{status | ch, d1, d2}
					m, err := codec.Decode(raw)
					require.NoError(t, err)
					encoded, err := codec.Encode(m)
					require.NoError(t, err)
					assert.Equal(t, raw, encoded)
					again, err := codec.Decode(encoded)
					require.NoError(t, err)
					assert.Equal(t, m, again)
				}
			}
		}
	}
}

func TestDataLength(t *testing.T) {
	n, err := codec.DataLength(0x90)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = codec.DataLength(0xC0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = codec.DataLength(0xF6)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = codec.DataLength(0xF0)
	assert.ErrorIs(t, err, contracts.ErrInvalidMessage)

	_, err = codec.DataLength(0x3C)
	assert.ErrorIs(t, err, contracts.ErrInvalidMessage)
}
