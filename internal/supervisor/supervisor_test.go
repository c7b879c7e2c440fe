package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// =============================================================================
// Fakes
// =============================================================================

// silentDialer hands out sessions that never finish their handshake.
type silentDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *silentDialer) Dial(connection.Target, connection.Sink) (connection.Session, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return silentSession{}, nil
}

func (d *silentDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type silentSession struct{}

func (silentSession) IsConnected() bool { return false }
func (silentSession) Publish(string, []byte, byte) connection.Ack {
	return connection.Done(connection.ErrNotConnected)
}
func (silentSession) Subscribe([]string, byte) connection.Ack {
	return connection.Done(connection.ErrNotConnected)
}
func (silentSession) Unsubscribe([]string) connection.Ack {
	return connection.Done(connection.ErrNotConnected)
}
func (silentSession) Close() {}

type managed struct {
	mgr    *connection.Manager
	onStop func(name string)
}

func (m *managed) Manager() *connection.Manager { return m.mgr }

func (m *managed) Close() {
	m.mgr.Close()
	if m.onStop != nil {
		m.onStop(m.mgr.Name())
	}
}

func newManaged(t *testing.T, name string, d connection.Dialer, clock clockwork.Clock, opts ...connection.Option) *managed {
	t.Helper()
	opts = append([]connection.Option{connection.WithClock(clock), connection.WithDeferredConnect()}, opts...)
	m := &managed{mgr: connection.New(name, d, connection.Target{URL: "mqtt://broker:1883"}, opts...)}
	t.Cleanup(m.mgr.Close)
	return m
}

// =============================================================================
// Registry
// =============================================================================

func TestSupervisor_RegisterAndLookup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock))
	d := &silentDialer{}

	require.NoError(t, s.Register(newManaged(t, "mqtt.sensors", d, clock)))
	require.NoError(t, s.Register(newManaged(t, "signalk", d, clock)))

	err := s.Register(newManaged(t, "signalk", d, clock))
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.Equal(t, []string{"mqtt.sensors", "signalk"}, s.Names())

	st, err := s.Status("signalk")
	require.NoError(t, err)
	assert.Equal(t, "signalk", st.Name)
	assert.Equal(t, "idle", st.State)

	_, err = s.Status("mqtt.gps")
	assert.ErrorIs(t, err, ErrNotFound)

	statuses := s.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "mqtt.sensors", statuses[0].Name)

	up, total := s.Connected()
	assert.Equal(t, 0, up)
	assert.Equal(t, 2, total)
}

func TestSupervisor_DisconnectAndReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock))
	d := &silentDialer{}
	m := newManaged(t, "mqtt.relays", d, clock)
	require.NoError(t, s.Register(m))

	require.NoError(t, s.Disconnect("mqtt.relays"))
	st, err := s.Status("mqtt.relays")
	require.NoError(t, err)
	assert.True(t, st.ManualDisconnect)
	assert.Equal(t, "disconnected", st.State)

	require.NoError(t, s.Reconnect("mqtt.relays"))
	st, _ = s.Status("mqtt.relays")
	assert.False(t, st.ManualDisconnect)
	assert.Equal(t, "connecting", st.State)
	assert.Equal(t, 1, d.count())

	assert.ErrorIs(t, s.Reconnect("nope"), ErrNotFound)
	assert.ErrorIs(t, s.Disconnect("nope"), ErrNotFound)
}

func TestSupervisor_CloseInReverseOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock))
	d := &silentDialer{}

	var mu sync.Mutex
	var stopped []string
	onStop := func(name string) {
		mu.Lock()
		stopped = append(stopped, name)
		mu.Unlock()
	}

	for _, name := range []string{"mqtt.sensors", "mqtt.relays", "signalk"} {
		m := newManaged(t, name, d, clock)
		m.onStop = onStop
		require.NoError(t, s.Register(m))
	}

	s.Close()
	s.Close()

	assert.Equal(t, []string{"signalk", "mqtt.relays", "mqtt.sensors"}, stopped)
	assert.ErrorIs(t, s.Register(newManaged(t, "late", d, clock)), ErrClosed)
}

// =============================================================================
// Events
// =============================================================================

func TestSupervisor_ObserversReceiveEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock))

	var mu sync.Mutex
	var seen []string
	s.AddObserver(func(ev connection.Event) {
		if ev.Kind == connection.EventStateChanged {
			mu.Lock()
			seen = append(seen, ev.Name+":"+ev.Status.State.String())
			mu.Unlock()
		}
	})
	s.AddObserver(nil)

	m := newManaged(t, "mqtt.weather", &silentDialer{}, clock, connection.WithObserver(s.Observe))
	require.NoError(t, s.Register(m))
	require.NoError(t, m.mgr.Connect())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 2*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "mqtt.weather:connecting", seen[0])
}

func TestNewConnectionStatus(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	st := connection.Status{
		Name:  "mqtt.gps",
		State: connection.StateError,
		Retry: connection.RetryState{
			Count:  3,
			NextAt: now.Add(1500 * time.Millisecond),
		},
		LastError:     errors.New("connection refused"),
		Subscriptions: 1,
		Since:         now.Add(-time.Minute),
	}

	cs := NewConnectionStatus(st, now)
	assert.Equal(t, "error", cs.State)
	assert.False(t, cs.Connected)
	assert.Equal(t, 3, cs.RetryCount)
	assert.Equal(t, int64(1500), cs.NextRetryInMs)
	assert.Equal(t, "connection refused", cs.LastError)

	cs = NewConnectionStatus(connection.Status{State: connection.StateConnected}, now)
	assert.True(t, cs.Connected)
	assert.Zero(t, cs.NextRetryInMs)
	assert.Empty(t, cs.LastError)
}
