package statusapi

import "codeberg.org/mutker/sensorbridge/internal/errors"

const ErrServeFailed = errors.ErrorCode("statusapi_serve_failed")
