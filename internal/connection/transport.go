package connection

import (
	"context"
	"time"
)

// Transport defaults applied by New when the target leaves them unset.
const (
	// DefaultConnectTimeout bounds a single connection attempt.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultKeepAlive is the heartbeat interval used to detect half-open links.
	DefaultKeepAlive = 30 * time.Second
)

// Limits enforced before anything reaches the transport.
const (
	// MaxPayloadSize is the largest payload Publish accepts (1MB).
	MaxPayloadSize = 1 << 20

	maxQoS = 2
)

// Target describes where and as whom a Dialer connects.
type Target struct {
	URL      string
	ClientID string
	Username string
	Password string

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Dialer opens transport sessions.
//
// Dial must return promptly: the handshake runs in the background and its
// outcome is reported through the Sink. Dial must not call the Sink
// synchronously. A non-nil error means the session could not even be
// constructed (for example a malformed URL) and is retried like a close.
type Dialer interface {
	Dial(target Target, sink Sink) (Session, error)
}

// Sink receives transport events for one session. Implementations are
// safe for concurrent use and never block.
type Sink interface {
	// Connected reports a completed handshake.
	Connected()

	// Message forwards an inbound message verbatim.
	Message(topic string, payload []byte)

	// Closed reports that the session ended. err may be nil.
	Closed(err error)

	// Failed reports a transport error. It does not imply Closed.
	Failed(err error)
}

// Ack waits for the outcome of a transport request.
type Ack func(ctx context.Context) error

// Session is one live transport connection.
//
// Publish, Subscribe and Unsubscribe issue the request without waiting; the
// returned Ack blocks until the transport acknowledges it.
type Session interface {
	IsConnected() bool
	Publish(topic string, payload []byte, qos byte) Ack
	Subscribe(topics []string, qos byte) Ack
	Unsubscribe(topics []string) Ack

	// Close tears the session down synchronously. It must not report
	// Closed through the sink.
	Close()
}

// Done returns an Ack that resolves immediately with err.
func Done(err error) Ack {
	return func(context.Context) error { return err }
}
