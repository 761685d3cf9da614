package supervisor

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	ErrNotConnected    = errors.ErrorCode("supervisor_not_connected")
	ErrConnectFailed   = errors.ErrorCode("supervisor_connect_failed")
	ErrSubscribeFailed = errors.ErrorCode("supervisor_subscribe_failed")
	ErrPublishFailed   = errors.ErrorCode("supervisor_publish_failed")
)
