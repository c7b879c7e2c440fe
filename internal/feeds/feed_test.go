package feeds

import (
	"context"
	"errors"
	"regexp"
	"slices"
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

type fakeDialer struct {
	mu       sync.Mutex
	targets  []connection.Target
	sessions []*fakeSession
}

func (d *fakeDialer) Dial(target connection.Target, sink connection.Sink) (connection.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	s := &fakeSession{sink: sink}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) latest() *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sessions) == 0 {
		return nil
	}
	return d.sessions[len(d.sessions)-1]
}

func (d *fakeDialer) target() connection.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.targets[0]
}

type sent struct {
	topic   string
	payload string
	qos     byte
}

type fakeSession struct {
	sink connection.Sink

	mu         sync.Mutex
	connected  bool
	publishErr error
	subscribes [][]string
	publishes  []sent
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Publish(topic string, payload []byte, qos byte) connection.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes = append(s.publishes, sent{topic: topic, payload: string(payload), qos: qos})
	return connection.Done(s.publishErr)
}

func (s *fakeSession) Subscribe(topics []string, _ byte) connection.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes = append(s.subscribes, slices.Clone(topics))
	return connection.Done(nil)
}

func (s *fakeSession) Unsubscribe([]string) connection.Ack { return connection.Done(nil) }

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *fakeSession) connect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.sink.Connected()
}

func (s *fakeSession) deliver(topic, payload string) {
	s.sink.Message(topic, []byte(payload))
}

func (s *fakeSession) failPublishes(err error) {
	s.mu.Lock()
	s.publishErr = err
	s.mu.Unlock()
}

func (s *fakeSession) subscribeCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subscribes)
}

func (s *fakeSession) publishCalls() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.publishes)
}

type broadcast struct {
	channel string
	payload any
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []broadcast
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.mu.Lock()
	h.msgs = append(h.msgs, broadcast{channel, payload})
	h.mu.Unlock()
}

func (h *fakeHub) on(channel string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, m := range h.msgs {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	points []point
}

func (r *fakeRecorder) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	r.mu.Lock()
	r.points = append(r.points, point{measurement, tags, fields})
	r.mu.Unlock()
}

func (r *fakeRecorder) all() []point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.points)
}

type harness struct {
	dialer *fakeDialer
	hub    *fakeHub
	rec    *fakeRecorder
	clock  *clockwork.FakeClock
}

func newHarness() *harness {
	return &harness{
		dialer: &fakeDialer{},
		hub:    &fakeHub{},
		rec:    &fakeRecorder{},
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Broker:      Broker{URL: "mqtt://broker:1883", ClientIDPrefix: "boat"},
		Dialer:      h.dialer,
		Clock:       h.clock,
		Broadcaster: h.hub,
		Recorder:    h.rec,
	}
}

func waitFor(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msgAndArgs...)
}

// online completes the handshake and waits for the initial subscription.
func online(t *testing.T, h *harness, mgr *connection.Manager) *fakeSession {
	t.Helper()
	waitFor(t, func() bool { return h.dialer.latest() != nil }, "feed never dialed")
	s := h.dialer.latest()
	s.connect()
	waitFor(t, func() bool { return mgr.IsConnected() && len(s.subscribeCalls()) > 0 }, "feed never subscribed")
	return s
}

// =============================================================================
// Shared plumbing
// =============================================================================

func TestClientID(t *testing.T) {
	id := ClientID("boat", "relays")
	assert.Regexp(t, regexp.MustCompile(`^boat-relays-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, ClientID("boat", "relays"), "client ids must be unique per session")

	assert.Regexp(t, `^ampmatter-gps-[0-9a-f]{8}$`, ClientID("", "gps"))
}

func TestConnectionName(t *testing.T) {
	assert.Equal(t, "mqtt.weather", ConnectionName("weather"))
}

func TestFeed_DialsWithBrokerIdentity(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.Broker.Username = "skipper"
	deps.Broker.Password = "secret"

	w := NewWeather(deps)
	t.Cleanup(w.Close)

	waitFor(t, func() bool { return h.dialer.latest() != nil })
	target := h.dialer.target()
	assert.Equal(t, "mqtt://broker:1883", target.URL)
	assert.Equal(t, "skipper", target.Username)
	assert.Equal(t, "secret", target.Password)
	assert.Regexp(t, `^boat-weather-`, target.ClientID)
	assert.Equal(t, "mqtt.weather", w.Name())
}

func TestFeed_SubscribesOnceOnConnect(t *testing.T) {
	h := newHarness()
	s := NewSensors(h.deps())
	t.Cleanup(s.Close)

	sess := online(t, h, s.Manager())
	assert.Equal(t, [][]string{{"boat/#", "N/+/battery/Type"}}, sess.subscribeCalls())
	assert.ElementsMatch(t, []string{"boat/#", "N/+/battery/Type"}, s.Manager().Subscriptions())
}

func TestFeed_ObserversSeeStateChanges(t *testing.T) {
	h := newHarness()
	var mu sync.Mutex
	var states []connection.State
	deps := h.deps()
	deps.Observers = []func(connection.Event){func(ev connection.Event) {
		if ev.Kind == connection.EventStateChanged {
			mu.Lock()
			states = append(states, ev.Status.State)
			mu.Unlock()
		}
	}}

	g := NewGPS(deps, "")
	t.Cleanup(g.Close)
	online(t, h, g.Manager())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return slices.Contains(states, connection.StateConnected)
	})
	assert.Equal(t, connection.StateConnected, g.Status().State)
}

// eagerDialer completes the handshake and delivers a retained message
// before Dial even returns, the way a fast local broker can.
type eagerDialer struct {
	fakeDialer
	topic, payload string
}

func (d *eagerDialer) Dial(target connection.Target, sink connection.Sink) (connection.Session, error) {
	session, err := d.fakeDialer.Dial(target, sink)
	if err != nil {
		return nil, err
	}
	s := session.(*fakeSession)
	s.connect()
	s.deliver(d.topic, d.payload)
	return s, nil
}

func TestFeed_NotDialledUntilStarted(t *testing.T) {
	h := newHarness()
	f := newFeed("relays", h.deps(), []string{"boat/relays/+/state"}, func(string, []byte) {})
	t.Cleanup(f.Close)

	assert.Nil(t, h.dialer.latest(), "newFeed must not dial before its owner holds it")
	assert.Equal(t, connection.StateIdle, f.Status().State)

	f.start()
	waitFor(t, func() bool { return h.dialer.latest() != nil })
}

func TestFeed_MessageDuringDialReachesOwner(t *testing.T) {
	h := newHarness()
	d := &eagerDialer{topic: "boat/relays/1/state", payload: "1"}
	deps := h.deps()
	deps.Dialer = d

	r := NewRelays(deps, "", []RelayDef{{ID: "1", Name: "Anchor light"}})
	t.Cleanup(r.Close)

	waitFor(t, func() bool {
		relay, ok := r.Get("1")
		return ok && relay.State
	}, "retained relay state was not applied")
	assert.Equal(t, h.clock.Now(), mustRelay(t, r, "1").LastChanged)
	waitFor(t, func() bool { return len(h.hub.on("relays.state")) == 1 })
}

func mustRelay(t *testing.T, r *Relays, id string) Relay {
	t.Helper()
	relay, ok := r.Get(id)
	require.True(t, ok, "relay %s missing", id)
	return relay
}

func TestFeed_PublishAppliesDefaultTimeout(t *testing.T) {
	h := newHarness()
	v := NewVictron(h.deps(), "", 0)
	t.Cleanup(v.Close)
	online(t, h, v.Manager())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, v.publish(ctx, "W/venus/test", []byte("x"), 0))
}

func TestFeed_CloseIsFinal(t *testing.T) {
	h := newHarness()
	r := NewRelays(h.deps(), "", []RelayDef{{ID: "1"}})
	r.Close()
	r.Close()

	_, err := r.Set(context.Background(), "1", true)
	assert.True(t, errors.Is(err, connection.ErrNotConnected) || errors.Is(err, connection.ErrClosed), "got %v", err)
}
