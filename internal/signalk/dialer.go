package signalk

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Stream heartbeat and handshake settings.
const (
	// HandshakeTimeout bounds the WebSocket upgrade.
	HandshakeTimeout = 10 * time.Second

	// PingInterval is how often a ping is sent on an open stream.
	PingInterval = 30 * time.Second

	// PongWait is how long past a ping the reader waits before giving up.
	PongWait = 10 * time.Second

	// writeWait bounds a single frame write.
	writeWait = 5 * time.Second

	// maxFrameSize caps inbound frames; full-model snapshots can be large.
	maxFrameSize = 1 << 20
)

// Dialer opens gorilla/websocket sessions for a connection.Manager.
type Dialer struct {
	// TLSConfig is used for wss:// URLs (optional).
	TLSConfig *tls.Config

	// Header is sent with the upgrade request, e.g. an Authorization token.
	Header http.Header

	// PingInterval and PongWait override the defaults when set.
	PingInterval time.Duration
	PongWait     time.Duration
}

// NewDialer returns a Dialer with the default heartbeat.
func NewDialer() *Dialer {
	return &Dialer{}
}

// stream is one WebSocket connection bound to one sink.
type stream struct {
	sink   connection.Sink
	cancel context.CancelFunc

	pingInterval time.Duration
	pongWait     time.Duration

	mu   sync.Mutex // guards conn and serialises writes
	conn *websocket.Conn

	closing atomic.Bool
	done    chan struct{}
}

// Dial starts the WebSocket handshake in the background and returns at once.
func (d *Dialer) Dial(target connection.Target, sink connection.Sink) (connection.Session, error) {
	if err := ValidateURL(target.URL); err != nil {
		return nil, fmt.Errorf("%w: %w", connection.ErrInvalidURL, err)
	}

	timeout := target.ConnectTimeout
	if timeout <= 0 {
		timeout = HandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		sink:         sink,
		cancel:       cancel,
		pingInterval: orDefault(d.PingInterval, PingInterval),
		pongWait:     orDefault(d.PongWait, PongWait),
		done:         make(chan struct{}),
	}

	wsDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  d.TLSConfig,
	}

	go s.open(ctx, wsDialer, target.URL, d.Header.Clone())

	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// open performs the handshake and then runs the read loop.
func (s *stream) open(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header) {
	defer close(s.done)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if s.closing.Load() {
			return
		}
		err = fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
		s.sink.Failed(err)
		s.sink.Closed(err)
		return
	}

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pongWait))
	})

	s.sink.Connected()

	go s.heartbeat(ctx, conn)
	s.readLoop(conn)
}

// readLoop forwards every text frame until the socket fails.
func (s *stream) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return
			}
			// A close frame is an orderly end; anything else is also an error.
			var closeErr *websocket.CloseError
			lost := fmt.Errorf("%w: %w", ErrConnectionLost, err)
			if !errors.As(err, &closeErr) {
				s.sink.Failed(lost)
			}
			s.sink.Closed(lost)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.sink.Message("", data)
	}
}

// heartbeat sends pings until the stream is cancelled.
func (s *stream) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// IsConnected reports whether the handshake completed and Close has not run.
func (s *stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closing.Load()
}

// Publish writes payload as a text frame. The topic is ignored; SignalK
// streams are not topic-addressed.
func (s *stream) Publish(_ string, payload []byte, _ byte) connection.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return connection.Done(connection.ErrNotConnected)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return connection.Done(s.conn.WriteMessage(websocket.TextMessage, payload))
}

// Subscribe is not supported; SignalK subscriptions travel as Publish
// payloads or URL query parameters.
func (s *stream) Subscribe([]string, byte) connection.Ack {
	return connection.Done(ErrNotSupported)
}

// Unsubscribe is not supported.
func (s *stream) Unsubscribe([]string) connection.Ack {
	return connection.Done(ErrNotSupported)
}

// Close sends a close frame, tears down the socket and waits for the
// reader to exit. It never reports through the sink.
func (s *stream) Close() {
	if s.closing.Swap(true) {
		return
	}
	s.cancel()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	<-s.done
}
