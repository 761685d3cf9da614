package codec

import (
	"bufio"
	"io"

	"codeberg.org/mutker/sensorbridge/internal/errors"
)

// MaxFrameSize bounds the accumulator so a missing terminator cannot grow
// it without limit.
const MaxFrameSize = 64

// Reader pulls frames off a byte stream. The only state kept between calls
// is the accumulator of a partially received line.
type Reader struct {
	r     *bufio.Reader
	codec *Codec
	buf   []byte
	// overflow is set while the tail of an oversized line is discarded.
	overflow bool
}

// NewReader returns a Reader decoding frames from r.
func NewReader(r io.Reader, c *Codec) *Reader {
	return &Reader{
		r:     bufio.NewReader(r),
		codec: c,
		buf:   make([]byte, 0, MaxFrameSize),
	}
}

// ReadFrame blocks until a full line is received and decodes it. Transport
// errors are returned unchanged and keep any partial line for the next
// call. The accumulator is cleared after every decode attempt.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}

		if r.overflow {
			if b == Terminator {
				r.overflow = false
			}
			continue
		}

		if b == Terminator {
			frame, err := r.codec.Decode(r.buf)
			r.buf = r.buf[:0]
			return frame, err
		}

		if len(r.buf) >= MaxFrameSize {
			r.buf = r.buf[:0]
			r.overflow = true
			return Frame{}, errors.New().WithData(ErrFrameTooLong, MaxFrameSize)
		}

		r.buf = append(r.buf, b)
	}
}

// Pending returns the number of buffered bytes of an incomplete line.
func (r *Reader) Pending() int {
	return len(r.buf)
}
