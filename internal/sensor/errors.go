package sensor

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	// Read Errors
	ErrReadFailed = errors.ErrorCode("sensor_read_failed")
	ErrBusBusy    = errors.ErrorCode("sensor_bus_busy")

	// Validation Errors
	ErrNotANumber     = errors.ErrorCode("sensor_not_a_number")
	ErrOutOfRange     = errors.ErrorCode("sensor_out_of_range")
	ErrUnknownChannel = errors.ErrorCode("sensor_unknown_channel")
)
