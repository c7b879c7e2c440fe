package supervisor

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Domain-specific errors for the connection registry.
var (
	// ErrNotFound is returned for an unregistered connection name.
	ErrNotFound = errors.New("supervisor: connection not found")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("supervisor: connection already registered")

	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("supervisor: closed")
)

// Managed is anything that owns a connection manager: a feed or the
// SignalK client. Close releases everything it holds.
type Managed interface {
	Manager() *connection.Manager
	Close()
}

// ConnectionStatus is the JSON view of a manager's status.
type ConnectionStatus struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Connected        bool      `json:"connected"`
	RetryCount       int       `json:"retryCount"`
	NextRetryAt      time.Time `json:"nextRetryAt,omitzero"`
	NextRetryInMs    int64     `json:"nextRetryInMs"`
	LastError        string    `json:"lastError,omitempty"`
	ManualDisconnect bool      `json:"manualDisconnect"`
	Subscriptions    int       `json:"subscriptions"`
	Since            time.Time `json:"since,omitzero"`
}

// NewConnectionStatus converts a status snapshot taken at now.
func NewConnectionStatus(st connection.Status, now time.Time) ConnectionStatus {
	cs := ConnectionStatus{
		Name:             st.Name,
		State:            st.State.String(),
		Connected:        st.State == connection.StateConnected,
		RetryCount:       st.Retry.Count,
		NextRetryAt:      st.Retry.NextAt,
		NextRetryInMs:    st.RetryIn(now).Milliseconds(),
		ManualDisconnect: st.ManualDisconnect,
		Subscriptions:    st.Subscriptions,
		Since:            st.Since,
	}
	if st.LastError != nil {
		cs.LastError = st.LastError.Error()
	}
	return cs
}

// Observer receives connection events from every registered manager.
// Observers are called concurrently from different managers and must be
// safe for that.
type Observer func(connection.Event)

// Supervisor is the registry of named connections.
type Supervisor struct {
	logger connection.Logger
	clock  clockwork.Clock

	mu      sync.RWMutex
	order   []string
	entries map[string]Managed
	closed  bool

	obsMu     sync.RWMutex
	observers []Observer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger connection.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for retry countdowns.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Supervisor) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty supervisor.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:  nopLogger{},
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]Managed),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddObserver adds an event sink. Add observers before building
// connections so no early transition is missed.
func (s *Supervisor) AddObserver(fn Observer) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

// Observe fans ev out to every observer. Pass it to connections with
// connection.WithObserver (or the feed/signalk equivalents).
func (s *Supervisor) Observe(ev connection.Event) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}

	switch ev.Kind {
	case connection.EventStateChanged:
		s.logger.Info("connection state changed",
			"connection", ev.Name,
			"from", ev.From.String(),
			"to", ev.Status.State.String(),
			"retry", ev.Status.Retry.Count,
		)
	case connection.EventError:
		s.logger.Warn("connection error", "connection", ev.Name, "error", ev.Err)
	}
}

// Register adds a connection under its manager's name.
func (s *Supervisor) Register(m Managed) error {
	name := m.Manager().Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	s.entries[name] = m
	s.order = append(s.order, name)
	s.logger.Debug("connection registered", "connection", name)
	return nil
}

func (s *Supervisor) lookup(name string) (Managed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m, nil
}

// Names returns registered names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Status returns one connection's status.
func (s *Supervisor) Status(name string) (ConnectionStatus, error) {
	m, err := s.lookup(name)
	if err != nil {
		return ConnectionStatus{}, err
	}
	return NewConnectionStatus(m.Manager().Status(), s.clock.Now()), nil
}

// Statuses returns every connection's status in registration order.
func (s *Supervisor) Statuses() []ConnectionStatus {
	s.mu.RLock()
	managed := make([]Managed, 0, len(s.order))
	for _, name := range s.order {
		managed = append(managed, s.entries[name])
	}
	s.mu.RUnlock()

	now := s.clock.Now()
	out := make([]ConnectionStatus, 0, len(managed))
	for _, m := range managed {
		out = append(out, NewConnectionStatus(m.Manager().Status(), now))
	}
	return out
}

// Connected reports how many registered connections are up.
func (s *Supervisor) Connected() (up, total int) {
	for _, st := range s.Statuses() {
		total++
		if st.Connected {
			up++
		}
	}
	return up, total
}

// Reconnect clears a manual disconnect and dials name again.
func (s *Supervisor) Reconnect(name string) error {
	m, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.logger.Info("manual reconnect", "connection", name)
	return m.Manager().Reconnect()
}

// Disconnect closes name and stops it retrying until Reconnect.
func (s *Supervisor) Disconnect(name string) error {
	m, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.logger.Info("manual disconnect", "connection", name)
	m.Manager().Disconnect()
	return nil
}

// Close tears every connection down in reverse registration order.
// It is idempotent.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	order := slices.Clone(s.order)
	entries := s.entries
	s.mu.Unlock()

	for _, name := range slices.Backward(order) {
		entries[name].Close()
		s.logger.Debug("connection closed", "connection", name)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
