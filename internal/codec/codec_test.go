package codec_test

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"codeberg.org/mutker/sensorbridge/internal/codec"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidFrames(t *testing.T) {
	c := codec.New(4)

	for d := 0; d < 4; d++ {
		for _, n := range []int{0, 7, 237, 273, 4095} {
			line := fmt.Sprintf("%d%d", d, n)
			frame, err := c.Decode([]byte(line))
			require.NoError(t, err, line)
			assert.Equal(t, uint8(d), frame.Index)
			assert.Equal(t, float64(n), frame.Value)
			assert.Equal(t, line, string(frame.Raw))
		}
	}
}

func TestDecodeSoilHumidityFrame(t *testing.T) {
	labels := []string{"temperature", "soil-humidity", "light", "air-humidity"}
	r := codec.NewReader(strings.NewReader("1237\n"), codec.New(len(labels)))

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "soil-humidity", labels[frame.Index])
	assert.Equal(t, 237.0, frame.Value)
	assert.Equal(t, "1237", string(frame.Raw))
}

func TestDecodeFloatValue(t *testing.T) {
	frame, err := codec.New(4).Decode([]byte("031.5"))
	require.NoError(t, err)
	assert.Equal(t, uint8(0), frame.Index)
	assert.InDelta(t, 31.5, frame.Value, 1e-9)
}

func TestDecodeCarriageReturn(t *testing.T) {
	frame, err := codec.New(4).Decode([]byte("273\r"))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), frame.Index)
	assert.Equal(t, 73.0, frame.Value)
	assert.Equal(t, "273", string(frame.Raw))
}

func TestDecodeErrors(t *testing.T) {
	c := codec.New(4)

	tests := []struct {
		name string
		line string
		code errors.ErrorCode
	}{
		{"empty", "", codec.ErrEmptyFrame},
		{"only carriage return", "\r", codec.ErrEmptyFrame},
		{"letter index", "a12", codec.ErrInvalidIndex},
		{"sign index", "-12", codec.ErrInvalidIndex},
		{"index out of range", "412", codec.ErrIndexOutOfRange},
		{"highest digit", "9", codec.ErrIndexOutOfRange},
		{"missing value", "1", codec.ErrInvalidValue},
		{"garbage value", "1abc", codec.ErrInvalidValue},
		{"not a number", "0NaN", codec.ErrInvalidValue},
		{"infinite", "0Inf", codec.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := c.Decode([]byte(tt.line))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
			assert.True(t, codec.IsDecodeError(err))
			assert.Equal(t, codec.Frame{}, frame)
		})
	}
}

func TestOutOfRangeForAllDigits(t *testing.T) {
	c := codec.New(4)
	for d := 4; d <= 9; d++ {
		_, err := c.Decode([]byte(fmt.Sprintf("%d100", d)))
		assert.True(t, errors.HasCode(err, codec.ErrIndexOutOfRange), "digit %d", d)
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte("fan:1\n"), codec.Encode("fan:1"))
	assert.Equal(t, []byte("\n"), codec.Encode(""))
}

func TestReaderClearsAccumulatorAfterError(t *testing.T) {
	r := codec.NewReader(strings.NewReader("x99\n0273\n"), codec.New(4))

	_, err := r.ReadFrame()
	require.Error(t, err)
	assert.Equal(t, 0, r.Pending())

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(0), frame.Index)
	assert.Equal(t, 273.0, frame.Value)

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderKeepsPartialLineAcrossTransportErrors(t *testing.T) {
	pr, pw := io.Pipe()
	r := codec.NewReader(pr, codec.New(4))

	go func() {
		_, _ = pw.Write([]byte("31"))
		_, _ = pw.Write([]byte("2\n"))
		_ = pw.Close()
	}()

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), frame.Index)
	assert.Equal(t, 12.0, frame.Value)
}

func TestReaderPartialLineAtEOF(t *testing.T) {
	r := codec.NewReader(strings.NewReader("012"), codec.New(4))

	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, r.Pending())
}

func TestReaderOversizedLine(t *testing.T) {
	long := strings.Repeat("1", codec.MaxFrameSize+10)
	r := codec.NewReader(strings.NewReader(long+"\n"+"150\n"), codec.New(4))

	_, err := r.ReadFrame()
	assert.True(t, errors.HasCode(err, codec.ErrFrameTooLong))

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), frame.Index)
	assert.Equal(t, 50.0, frame.Value)
}
