package mqtt

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dialer opens paho MQTT sessions for a connection.Manager.
//
// Every Dial builds a brand-new paho client; nothing is shared between
// sessions, so two managers never interfere with each other's broker
// session even when they point at the same broker.
type Dialer struct {
	// TLSConfig overrides the default TLS 1.2+ config for secure schemes.
	TLSConfig *tls.Config

	// Logger receives handler panics and late transport errors (optional).
	Logger Logger
}

// NewDialer returns a Dialer that logs through logger.
func NewDialer(logger Logger) *Dialer {
	return &Dialer{Logger: logger}
}

// session is one paho client bound to one sink.
//
// Thread Safety:
//   - paho invokes handlers on its own goroutines; the sink is safe for
//     concurrent use.
//   - closing suppresses reports after Close so a torn-down session stays silent.
type session struct {
	client  pahomqtt.Client
	sink    connection.Sink
	logger  Logger
	closing atomic.Bool
}

// Dial starts connecting to target.URL and returns immediately.
//
// The handshake outcome is reported through sink: Connected on success,
// Failed then Closed when the attempt fails, and Closed when an
// established connection is lost.
//
// Returns:
//   - connection.Session: The session being established
//   - error: ErrInvalidURL if the broker URL cannot be used
func (d *Dialer) Dial(target connection.Target, sink connection.Sink) (connection.Session, error) {
	brokerURL, secure, err := normalizeBrokerURL(target.URL)
	if err != nil {
		return nil, err
	}

	opts := buildClientOptions(brokerURL, secure, target, d.TLSConfig)

	s := &session{sink: sink, logger: d.Logger}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if s.closing.Load() {
			return
		}
		s.sink.Connected()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if s.closing.Load() {
			return
		}
		s.sink.Closed(err)
	})

	// Subscriptions register no per-topic callback, so every message
	// arrives through the default handler in broker order.
	opts.SetDefaultPublishHandler(s.handleMessage)

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()

	timeout := opts.ConnectTimeout + connectGrace
	go s.awaitConnect(token, timeout)

	return s, nil
}

// awaitConnect waits for the CONNACK and reports a failed attempt.
func (s *session) awaitConnect(token pahomqtt.Token, timeout time.Duration) {
	var err error
	if !token.WaitTimeout(timeout) {
		err = fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, timeout)
	} else if tokenErr := token.Error(); tokenErr != nil {
		err = fmt.Errorf("%w: %w", ErrConnectionFailed, tokenErr)
	}

	if err == nil || s.closing.Load() {
		return
	}

	s.sink.Failed(err)
	s.sink.Closed(err)
}

// handleMessage forwards a paho message to the sink with panic recovery.
func (s *session) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("mqtt message handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	if s.closing.Load() {
		return
	}
	s.sink.Message(msg.Topic(), msg.Payload())
}

// IsConnected reports whether paho considers the link up.
func (s *session) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// Close disconnects without reporting through the sink.
// Safe to call more than once and while the connect is still in flight.
func (s *session) Close() {
	if s.closing.Swap(true) {
		return
	}
	s.client.Disconnect(defaultDisconnectQuiesce)
}
