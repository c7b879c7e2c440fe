package mqtt

import "errors"

// Domain-specific errors for MQTT transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is reported through the sink when a connect attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrInvalidURL is returned by Dial for a malformed or unsupported broker URL.
	ErrInvalidURL = errors.New("mqtt: invalid broker URL")

	// ErrSubscribeRejected is returned when the broker refuses a subscription
	// in its SUBACK.
	ErrSubscribeRejected = errors.New("mqtt: subscription rejected by broker")

	// ErrTimeout is returned when an acknowledgement does not arrive in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
