package actuator

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	// Command Errors
	ErrInvalidCommand  = errors.ErrorCode("actuator_invalid_command")
	ErrUnknownActuator = errors.ErrorCode("actuator_unknown")

	// Output Errors
	ErrWriteFailed = errors.ErrorCode("actuator_write_failed")
)
