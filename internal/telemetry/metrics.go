// Package telemetry exposes connection health as Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

const namespace = "ampmatter"

// allStates lists every state so the state gauge is one-hot per connection.
var allStates = []connection.State{
	connection.StateIdle,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateDisconnected,
	connection.StateReconnecting,
	connection.StateError,
}

// Metrics holds the connection collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	up          *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	retryDelay  *prometheus.GaugeVec
	messages    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	wsClients   prometheus.Gauge
}

// New registers the collectors together with the Go runtime and process
// collectors.
func New(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 for the active state, 0 otherwise)",
		}, []string{"connection", "state"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "up",
			Help:      "Whether the connection is established",
		}, []string{"connection"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Total number of state transitions",
		}, []string{"connection", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "retries_scheduled_total",
			Help:      "Total number of scheduled reconnect attempts",
		}, []string{"connection"}),
		retryDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "retry_delay_seconds",
			Help:      "Delay chosen for the most recent reconnect attempt",
		}, []string{"connection"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "messages_received_total",
			Help:      "Total number of inbound messages",
		}, []string{"connection"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "errors_total",
			Help:      "Total number of transport errors",
		}, []string{"connection"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Number of connected dashboard clients",
		}),
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	m.registry.MustRegister(
		m.state, m.up, m.transitions, m.retries, m.retryDelay, m.messages, m.errors, m.wsClients,
		info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe updates the collectors from a connection event.
func (m *Metrics) Observe(ev connection.Event) {
	switch ev.Kind {
	case connection.EventStateChanged:
		m.setState(ev.Name, ev.Status.State)
		m.transitions.WithLabelValues(ev.Name, ev.Status.State.String()).Inc()
	case connection.EventRetryScheduled:
		m.retries.WithLabelValues(ev.Name).Inc()
		m.retryDelay.WithLabelValues(ev.Name).Set(ev.Delay.Seconds())
	case connection.EventMessage:
		m.messages.WithLabelValues(ev.Name).Inc()
	case connection.EventError:
		m.errors.WithLabelValues(ev.Name).Inc()
	}
}

func (m *Metrics) setState(name string, current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(name, s.String()).Set(v)
	}
	up := 0.0
	if current == connection.StateConnected {
		up = 1
	}
	m.up.WithLabelValues(name).Set(up)
}

// SetWebSocketClients records the hub's client count.
func (m *Metrics) SetWebSocketClients(n int) {
	m.wsClients.Set(float64(n))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
