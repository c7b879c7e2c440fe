package connection

import "github.com/jonboulle/clockwork"

// Logger is the logging surface the manager needs.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Manager.
type Option func(*Manager)

// WithCallbacks installs lifecycle callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(m *Manager) {
		m.events.add(cb.listener())
	}
}

// WithObserver registers a listener that receives every Event.
func WithObserver(fn func(Event)) Option {
	return func(m *Manager) {
		m.events.add(fn)
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
			m.events.logger = logger
		}
	}
}

// WithSubscribeQoS sets the QoS used for subscriptions and their replay.
func WithSubscribeQoS(qos byte) Option {
	return func(m *Manager) {
		if qos <= maxQoS {
			m.subQoS = qos
		}
	}
}

// WithDeferredConnect stops New from dialling; call Connect explicitly.
func WithDeferredConnect() Option {
	return func(m *Manager) {
		m.deferred = true
	}
}
