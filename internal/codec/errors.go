package codec

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	// Decode Errors
	ErrEmptyFrame      = errors.ErrorCode("codec_empty_frame")
	ErrInvalidIndex    = errors.ErrorCode("codec_invalid_index")
	ErrIndexOutOfRange = errors.ErrorCode("codec_index_out_of_range")
	ErrInvalidValue    = errors.ErrorCode("codec_invalid_value")
	ErrFrameTooLong    = errors.ErrorCode("codec_frame_too_long")
)

// IsDecodeError reports whether err is a malformed-frame error, as opposed
// to a transport failure.
func IsDecodeError(err error) bool {
	code, ok := errors.CodeOf(err)
	if !ok {
		return false
	}

	switch code {
	case ErrEmptyFrame, ErrInvalidIndex, ErrIndexOutOfRange, ErrInvalidValue, ErrFrameTooLong:
		return true
	default:
		return false
	}
}
