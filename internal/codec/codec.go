// Package codec implements the line-oriented serial frame format used by
// the auxiliary sensor board:
//
//	<digit channel-index><value>\n
//
// There is no escaping and no checksum, so any malformed line is rejected.
package codec

import (
	"math"
	"strconv"

	"codeberg.org/mutker/sensorbridge/internal/errors"
)

const (
	// Terminator ends every frame on the wire.
	Terminator = '\n'

	carriageReturn = '\r'
)

// Frame is one decoded line.
type Frame struct {
	Index uint8
	Value float64
	// Raw holds the received bytes without the line terminator.
	Raw []byte
}

// Codec decodes frames whose index must be below a configured channel count.
type Codec struct {
	channels int
}

// New returns a Codec accepting indices 0..channels-1.
func New(channels int) *Codec {
	return &Codec{channels: channels}
}

// Decode parses a single line. The line must not include the '\n'
// terminator; a trailing '\r' is treated as part of the terminator.
func (c *Codec) Decode(line []byte) (Frame, error) {
	errFactory := errors.New()

	if n := len(line); n > 0 && line[n-1] == carriageReturn {
		line = line[:n-1]
	}

	if len(line) == 0 {
		return Frame{}, errFactory.New(ErrEmptyFrame)
	}

	first := line[0]
	if first < '0' || first > '9' {
		return Frame{}, errFactory.WithData(ErrInvalidIndex, string(first))
	}

	index := int(first - '0')
	if index >= c.channels {
		return Frame{}, errFactory.WithData(ErrIndexOutOfRange, struct {
			Index    int
			Channels int
		}{
			Index:    index,
			Channels: c.channels,
		})
	}

	rest := string(line[1:])
	value, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return Frame{}, errFactory.Wrap(ErrInvalidValue, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Frame{}, errFactory.WithData(ErrInvalidValue, rest)
	}

	raw := make([]byte, len(line))
	copy(raw, line)

	return Frame{
		Index: uint8(index),
		Value: value,
		Raw:   raw,
	}, nil
}

// Encode appends the line terminator to msg for outbound traffic.
func Encode(msg string) []byte {
	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	return append(out, Terminator)
}
