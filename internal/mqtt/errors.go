package mqtt

import "codeberg.org/mutker/sensorbridge/internal/errors"

const (
	ErrConnectFailed   = errors.ErrorCode("mqtt_connect_failed")
	ErrPublishFailed   = errors.ErrorCode("mqtt_publish_failed")
	ErrSubscribeFailed = errors.ErrorCode("mqtt_subscribe_failed")
	ErrEncodeFailed    = errors.ErrorCode("mqtt_encode_failed")
	ErrInvalidTopic    = errors.ErrorCode("mqtt_invalid_topic")
	ErrMissingBroker   = errors.ErrorCode("mqtt_missing_broker")
)
