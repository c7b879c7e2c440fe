package connection

import "errors"

// Domain-specific errors for connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned by Publish and Subscribe when the manager
	// is not in StateConnected. No transport I/O is attempted.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrClosed is returned once the manager has been torn down with Close.
	ErrClosed = errors.New("connection: manager closed")

	// ErrInvalidTopic is returned for an empty topic or topic list.
	ErrInvalidTopic = errors.New("connection: topic cannot be empty")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("connection: invalid QoS level (must be 0, 1, or 2)")

	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("connection: payload too large")

	// ErrPublishFailed wraps a transport-level publish failure.
	ErrPublishFailed = errors.New("connection: publish failed")

	// ErrSubscribeFailed wraps a transport-level subscribe failure.
	ErrSubscribeFailed = errors.New("connection: subscribe failed")

	// ErrUnsubscribeFailed wraps a transport-level unsubscribe failure.
	ErrUnsubscribeFailed = errors.New("connection: unsubscribe failed")

	// ErrTimeout is returned when a transport acknowledgement does not arrive in time.
	ErrTimeout = errors.New("connection: operation timed out")

	// ErrInvalidURL is returned by dialers for a malformed target address.
	ErrInvalidURL = errors.New("connection: invalid target URL")

	// ErrUnsupported is returned by transports that have no notion of the
	// requested operation (e.g. publish on a read-only stream).
	ErrUnsupported = errors.New("connection: operation not supported by transport")
)
