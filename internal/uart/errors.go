package uart

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	ErrOpenFailed  = errors.ErrorCode("uart_open_failed")
	ErrReadFailed  = errors.ErrorCode("uart_read_failed")
	ErrWriteFailed = errors.ErrorCode("uart_write_failed")
	ErrNoLabels    = errors.ErrorCode("uart_no_labels")
)
