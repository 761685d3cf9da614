package gateway

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	ErrMissingDep = errors.ErrorCode("gateway_missing_dependency")
)
