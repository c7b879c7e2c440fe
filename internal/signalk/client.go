package signalk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

const (
	// Name is the connection name a Client registers under.
	Name = "signalk"

	// DefaultURL is the stream of a SignalK server running on the display host.
	DefaultURL = "ws://localhost:3000/signalk/v1/stream?subscribe=self"

	// CountdownInterval is how often the retry countdown is recomputed.
	CountdownInterval = 100 * time.Millisecond

	// streamTopic labels frames sent with Send; streams ignore topics.
	streamTopic = "stream"
)

// Client is a resilient SignalK delta stream.
//
// It wraps a connection.Manager over a WebSocket Dialer, so it shares the
// manager's backoff and state machine, and decodes every frame into hello
// and delta notifications.
type Client struct {
	mgr    *connection.Manager
	clock  clockwork.Clock
	logger connection.Logger
	nav    *Navigation

	dialer    connection.Dialer
	observers []func(connection.Event)
	deferred  bool

	onHello     func(selfID string)
	onValue     func(Value)
	onCountdown func(time.Duration)

	mu     sync.RWMutex
	selfID string

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the WebSocket dialer, mainly for tests.
func WithDialer(d connection.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock sets the clock used for backoff and the countdown.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger connection.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// OnHello is called with the vessel identity from each hello frame.
func OnHello(fn func(selfID string)) Option {
	return func(c *Client) { c.onHello = fn }
}

// OnValue is called once per path/value pair, in wire order.
func OnValue(fn func(Value)) Option {
	return func(c *Client) { c.onValue = fn }
}

// OnCountdown is called whenever the recomputed retry countdown changes.
func OnCountdown(fn func(time.Duration)) Option {
	return func(c *Client) { c.onCountdown = fn }
}

// WithObserver receives every connection event of the underlying manager.
func WithObserver(fn func(connection.Event)) Option {
	return func(c *Client) { c.observers = append(c.observers, fn) }
}

// WithDeferredConnect stops New from connecting; call Connect explicitly.
func WithDeferredConnect() Option {
	return func(c *Client) { c.deferred = true }
}

// New creates a Client for url and starts connecting unless deferred.
// An empty url selects DefaultURL. The url is fixed for the Client's life;
// build a new Client to change it.
func New(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}

	c := &Client{
		clock:  clockwork.NewRealClock(),
		logger: discard{},
		nav:    NewNavigation(),
		dialer: NewDialer(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	mgrOpts := []connection.Option{
		connection.WithClock(c.clock),
		connection.WithLogger(c.logger),
		connection.WithCallbacks(connection.Callbacks{
			OnMessage: c.handleFrame,
		}),
	}
	for _, fn := range c.observers {
		mgrOpts = append(mgrOpts, connection.WithObserver(fn))
	}
	if c.deferred {
		mgrOpts = append(mgrOpts, connection.WithDeferredConnect())
	}

	c.mgr = connection.New(Name, c.dialer, connection.Target{
		URL:            url,
		ConnectTimeout: HandshakeTimeout,
	}, mgrOpts...)

	go c.runCountdown()

	return c
}

// handleFrame decodes one frame and fans it out. It runs on the manager's
// dispatcher goroutine, so frames are handled strictly in arrival order.
func (c *Client) handleFrame(_ string, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		c.logger.Debug("signalk frame dropped", "error", err, "size", len(payload))
		return
	}

	switch {
	case msg.Hello != nil:
		c.mu.Lock()
		c.selfID = msg.Hello.Self
		c.mu.Unlock()
		c.nav.SetSelf(msg.Hello.Self)

		c.logger.Info("signalk hello received",
			"server", msg.Hello.Name,
			"version", msg.Hello.Version,
			"self", msg.Hello.Self,
		)
		if c.onHello != nil {
			c.onHello(msg.Hello.Self)
		}

	case msg.Delta != nil:
		now := c.clock.Now()
		for _, v := range msg.Delta.Values() {
			c.nav.Apply(v, now)
			if c.onValue != nil {
				c.onValue(v)
			}
		}
	}
}

// runCountdown recomputes the retry countdown on every tick.
func (c *Client) runCountdown() {
	defer close(c.done)

	ticker := c.clock.NewTicker(CountdownInterval)
	defer ticker.Stop()

	last := time.Duration(-1)
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			d := c.mgr.NextRetryIn()
			if d == last {
				continue
			}
			last = d
			if c.onCountdown != nil {
				c.onCountdown(d)
			}
		}
	}
}

// Manager exposes the underlying connection manager.
func (c *Client) Manager() *connection.Manager { return c.mgr }

// URL returns the stream URL.
func (c *Client) URL() string { return c.mgr.Target().URL }

// Status returns the connection snapshot.
func (c *Client) Status() connection.Status { return c.mgr.Status() }

// State returns the connection state.
func (c *Client) State() connection.State { return c.mgr.State() }

// RetryIn returns the time left until the next attempt, or 0 if none is
// scheduled.
func (c *Client) RetryIn() time.Duration { return c.mgr.NextRetryIn() }

// SelfID returns the vessel identity from the last hello, if any.
func (c *Client) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

// Navigation returns the navigation snapshot built from deltas.
func (c *Client) Navigation() NavigationData { return c.nav.Snapshot() }

// Connect starts a connection attempt if none is in progress.
func (c *Client) Connect() error { return c.mgr.Connect() }

// Disconnect closes the stream and stops retrying.
func (c *Client) Disconnect() { c.mgr.Disconnect() }

// Reconnect tears down the stream and dials again with a fresh backoff.
func (c *Client) Reconnect() error { return c.mgr.Reconnect() }

// Send marshals v as JSON and writes it to the stream, e.g. a
// subscription request.
func (c *Client) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding signalk frame: %w", err)
	}
	return c.mgr.Publish(ctx, streamTopic, data, 0)
}

// Close stops the countdown and tears the connection down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.mgr.Close()
	})
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
