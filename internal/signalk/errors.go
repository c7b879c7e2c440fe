package signalk

import "errors"

// Domain-specific errors for SignalK operations.
var (
	// ErrHandshakeFailed is reported when the WebSocket upgrade fails.
	ErrHandshakeFailed = errors.New("signalk: handshake failed")

	// ErrConnectionLost is reported when an open stream ends.
	ErrConnectionLost = errors.New("signalk: connection lost")

	// ErrNotSupported is returned for MQTT-style operations a stream has no
	// equivalent for.
	ErrNotSupported = errors.New("signalk: operation not supported on a stream")

	// ErrUndecodable marks a frame that is not a JSON object.
	ErrUndecodable = errors.New("signalk: undecodable frame")
)
