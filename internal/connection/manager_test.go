package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeDialer struct {
	mu       sync.Mutex
	targets  []Target
	sessions []*fakeSession
	dialErr  error
	ackErr   error
}

func (d *fakeDialer) Dial(target Target, sink Sink) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = append(d.targets, target)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	s := &fakeSession{sink: sink, ackErr: d.ackErr}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) setDialErr(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 {
		i = len(d.sessions) + i
	}
	return d.sessions[i]
}

type published struct {
	topic   string
	payload string
	qos     byte
}

type fakeSession struct {
	sink   Sink
	ackErr error

	mu           sync.Mutex
	connected    bool
	closed       bool
	subscribes   [][]string
	unsubscribes [][]string
	publishes    []published
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Publish(topic string, payload []byte, qos byte) Ack {
	s.mu.Lock()
	s.publishes = append(s.publishes, published{topic: topic, payload: string(payload), qos: qos})
	s.mu.Unlock()
	return Done(s.ackErr)
}

func (s *fakeSession) Subscribe(topics []string, _ byte) Ack {
	s.mu.Lock()
	s.subscribes = append(s.subscribes, slices.Clone(topics))
	s.mu.Unlock()
	return Done(s.ackErr)
}

func (s *fakeSession) Unsubscribe(topics []string) Ack {
	s.mu.Lock()
	s.unsubscribes = append(s.unsubscribes, slices.Clone(topics))
	s.mu.Unlock()
	return Done(nil)
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.connected = false
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) connect() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.sink.Connected()
}

func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.sink.Closed(err)
}

func (s *fakeSession) subscribeCalls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subscribes)
}

func (s *fakeSession) publishCalls() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.publishes)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == EventStateChanged {
			out = append(out, ev.From.String()+"->"+ev.Status.State.String())
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for _, ev := range r.events {
		if ev.Kind == EventRetryScheduled {
			out = append(out, ev.Delay)
		}
	}
	return out
}

func newTestManager(t *testing.T, d *fakeDialer, opts ...Option) (*Manager, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	opts = append([]Option{WithClock(clock), WithObserver(rec.observe)}, opts...)
	m := New("test", d, Target{URL: "mqtt://broker:1883", ClientID: "ampmatter-test"}, opts...)
	t.Cleanup(m.Close)
	return m, clock, rec
}

func waitFor(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msgAndArgs...)
}

// connectNow completes the handshake of the latest session.
func connectNow(t *testing.T, m *Manager, d *fakeDialer) *fakeSession {
	t.Helper()
	s := d.session(-1)
	s.connect()
	waitFor(t, func() bool { return m.State() == StateConnected }, "state never reached connected")
	return s
}

// =============================================================================
// Construction and connect
// =============================================================================

func TestManager_ConnectsOnConstruction(t *testing.T) {
	d := &fakeDialer{}
	var connects int
	var mu sync.Mutex
	m, _, _ := newTestManager(t, d, WithCallbacks(Callbacks{
		OnConnect: func() {
			mu.Lock()
			connects++
			mu.Unlock()
		},
	}))

	require.Equal(t, 1, d.dials())
	assert.Equal(t, StateConnecting, m.State())

	target := d.targets[0]
	assert.Equal(t, DefaultConnectTimeout, target.ConnectTimeout)
	assert.Equal(t, DefaultKeepAlive, target.KeepAlive)

	connectNow(t, m, d)
	assert.Equal(t, 0, m.RetryCount())
	assert.NoError(t, m.LastError())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 1
	})
}

func TestManager_DeferredConnect(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d, WithDeferredConnect())

	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, d.dials())

	require.NoError(t, m.Connect())
	assert.Equal(t, 1, d.dials())
	assert.Equal(t, StateConnecting, m.State())
}

func TestManager_ConnectIsNoOpWhileInFlightOrConnected(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)

	require.NoError(t, m.Connect())
	require.NoError(t, m.Connect())
	assert.Equal(t, 1, d.dials(), "in-flight attempt must not be duplicated")

	connectNow(t, m, d)
	require.NoError(t, m.Connect())
	assert.Equal(t, 1, d.dials(), "connected session must not be redialled")
}

// =============================================================================
// Backoff
// =============================================================================

func TestManager_BackoffMonotonicity(t *testing.T) {
	d := &fakeDialer{}
	m, clock, rec := newTestManager(t, d)

	const failures = 12
	for n := 1; n <= failures; n++ {
		d.session(-1).drop(errors.New("connection refused"))
		waitFor(t, func() bool { return m.RetryCount() == n }, "retry %d never scheduled", n)

		assert.Equal(t, StateDisconnected, m.State())
		want := Delay(n - 1)
		assert.Equal(t, want, m.NextRetryIn(), "retry %d delay", n)

		clock.Advance(want)
		waitFor(t, func() bool { return d.dials() == n+1 }, "retry %d never dialled", n)
		waitFor(t, func() bool { return m.State() == StateReconnecting })
	}

	waitFor(t, func() bool { return len(rec.delays()) == failures })
	delays := rec.delays()
	for i, got := range delays {
		assert.Equal(t, Delay(i), got, "delay %d", i+1)
		if i > 0 {
			assert.GreaterOrEqual(t, got, delays[i-1])
		}
	}
	assert.Equal(t, MaxDelay, delays[failures-1])
}

// stateEvents returns the state_changed events that entered to.
func (r *recorder) stateEvents(to State) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == EventStateChanged && ev.Status.State == to {
			out = append(out, ev)
		}
	}
	return out
}

func TestManager_StateChangeCarriesPendingRetry(t *testing.T) {
	t.Run("transport closed", func(t *testing.T) {
		d := &fakeDialer{}
		m, clock, rec := newTestManager(t, d)

		d.session(-1).drop(errors.New("connection refused"))
		waitFor(t, func() bool { return len(rec.stateEvents(StateDisconnected)) == 1 })

		ev := rec.stateEvents(StateDisconnected)[0]
		assert.Equal(t, StateConnecting, ev.From)
		assert.True(t, ev.Status.Retry.Scheduled(), "state_changed must carry the pending retry")
		assert.Equal(t, 1, ev.Status.Retry.Count)
		assert.Equal(t, clock.Now().Add(MinDelay), ev.Status.Retry.NextAt)
		assert.Equal(t, MinDelay, ev.Status.RetryIn(ev.Time))
		assert.Equal(t, m.Status().Retry, ev.Status.Retry)
	})

	t.Run("dial error", func(t *testing.T) {
		d := &fakeDialer{}
		d.setDialErr(fmt.Errorf("%w: missing host", ErrInvalidURL))
		_, _, rec := newTestManager(t, d)

		waitFor(t, func() bool { return len(rec.stateEvents(StateError)) == 1 })
		ev := rec.stateEvents(StateError)[0]
		assert.True(t, ev.Status.Retry.Scheduled())
		assert.Equal(t, 1, ev.Status.Retry.Count)
	})
}

func TestManager_ResetOnSuccess(t *testing.T) {
	d := &fakeDialer{}
	m, clock, _ := newTestManager(t, d)

	for n := 1; n <= 4; n++ {
		d.session(-1).drop(nil)
		waitFor(t, func() bool { return m.RetryCount() == n })
		clock.Advance(Delay(n - 1))
		waitFor(t, func() bool { return d.dials() == n+1 })
	}

	connectNow(t, m, d)
	assert.Equal(t, 0, m.RetryCount())
	assert.Equal(t, time.Duration(0), m.NextRetryIn())

	d.session(-1).drop(nil)
	waitFor(t, func() bool { return m.RetryCount() == 1 })
	assert.Equal(t, MinDelay, m.NextRetryIn())
}

func TestManager_RetryBeforeDueDoesNotDial(t *testing.T) {
	d := &fakeDialer{}
	m, clock, _ := newTestManager(t, d)

	d.session(-1).drop(nil)
	waitFor(t, func() bool { return m.RetryCount() == 1 })

	clock.Advance(MinDelay - time.Millisecond)
	assert.Never(t, func() bool { return d.dials() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Millisecond)
	waitFor(t, func() bool { return d.dials() == 2 })
}

// =============================================================================
// Manual disconnect
// =============================================================================

func TestManager_NoRetryAfterManualDisconnect(t *testing.T) {
	d := &fakeDialer{}
	m, clock, rec := newTestManager(t, d)

	d.session(-1).drop(nil)
	waitFor(t, func() bool { return m.NextRetryIn() > 0 })

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, m.RetryCount())
	assert.Equal(t, time.Duration(0), m.NextRetryIn())
	assert.True(t, m.Status().ManualDisconnect)

	waitFor(t, func() bool { return len(rec.transitions()) == 2 })
	clock.Advance(time.Minute)
	assert.Never(t, func() bool {
		return d.dials() > 1 || len(rec.transitions()) != 2
	}, 100*time.Millisecond, 5*time.Millisecond, "no attempt or state change expected after manual disconnect")
	assert.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Connect())
	assert.Equal(t, 1, d.dials(), "Connect must not override a manual disconnect")

	require.NoError(t, m.Reconnect())
	assert.Equal(t, 2, d.dials())
	assert.Equal(t, StateConnecting, m.State())
	assert.False(t, m.Status().ManualDisconnect)
}

func TestManager_IdempotentTeardown(t *testing.T) {
	d := &fakeDialer{}
	m, _, rec := newTestManager(t, d)

	inFlight := d.session(-1)
	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, time.Duration(0), m.NextRetryIn())
	assert.True(t, inFlight.isClosed())

	// A handshake that completes after teardown belongs to a dead session.
	inFlight.connect()
	assert.Never(t, func() bool { return m.State() != StateDisconnected }, 50*time.Millisecond, 5*time.Millisecond)

	waitFor(t, func() bool { return len(rec.transitions()) == 2 })
	assert.Equal(t, []string{"idle->connecting", "connecting->disconnected"}, rec.transitions())
}

func TestManager_DisconnectWhileConnectedClosesTransport(t *testing.T) {
	d := &fakeDialer{}
	var disconnects int
	var mu sync.Mutex
	m, _, _ := newTestManager(t, d, WithCallbacks(Callbacks{
		OnDisconnect: func(error) {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	}))

	s := connectNow(t, m, d)
	m.Disconnect()

	assert.True(t, s.isClosed())
	assert.Equal(t, StateDisconnected, m.State())

	// The resulting transport close must not trigger a retry.
	s.drop(nil)
	assert.Never(t, func() bool { return m.RetryCount() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, disconnects, "manual disconnect is not reported as OnDisconnect")
	mu.Unlock()
}

// =============================================================================
// Errors
// =============================================================================

func TestManager_ErrorEventDoesNotScheduleRetry(t *testing.T) {
	d := &fakeDialer{}
	var gotErr error
	var mu sync.Mutex
	m, _, _ := newTestManager(t, d, WithCallbacks(Callbacks{
		OnError: func(err error) {
			mu.Lock()
			gotErr = err
			mu.Unlock()
		},
	}))

	boom := errors.New("tls handshake failed")
	s := d.session(-1)
	s.sink.Failed(boom)

	waitFor(t, func() bool { return m.State() == StateError })
	assert.ErrorIs(t, m.LastError(), boom)
	assert.Equal(t, 0, m.RetryCount())
	assert.Equal(t, time.Duration(0), m.NextRetryIn())
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(gotErr, boom)
	})

	s.drop(boom)
	waitFor(t, func() bool { return m.RetryCount() == 1 })
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, MinDelay, m.NextRetryIn())
}

func TestManager_SynchronousDialErrorIsRetried(t *testing.T) {
	d := &fakeDialer{}
	bad := fmt.Errorf("%w: missing host", ErrInvalidURL)
	d.setDialErr(bad)

	var errorsSeen int
	var mu sync.Mutex
	m, clock, rec := newTestManager(t, d, WithCallbacks(Callbacks{
		OnError: func(error) {
			mu.Lock()
			errorsSeen++
			mu.Unlock()
		},
	}))

	assert.Equal(t, StateError, m.State())
	assert.ErrorIs(t, m.LastError(), ErrInvalidURL)
	assert.Equal(t, 1, m.RetryCount())
	assert.Equal(t, MinDelay, m.NextRetryIn())

	clock.Advance(MinDelay)
	waitFor(t, func() bool { return m.RetryCount() == 2 })
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, Delay(1), m.NextRetryIn())

	d.setDialErr(nil)
	clock.Advance(Delay(1))
	waitFor(t, func() bool { return d.dials() == 3 && m.State() == StateReconnecting })

	connectNow(t, m, d)
	assert.Equal(t, 0, m.RetryCount())
	assert.NoError(t, m.LastError())

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errorsSeen == 2
	})
	assert.Contains(t, rec.transitions(), "error->reconnecting")
}

// =============================================================================
// Publish / subscribe
// =============================================================================

func TestManager_PublishPrecondition(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)
	ctx := context.Background()

	err := m.Publish(ctx, "boat/relays/1/set", []byte("1"), 1)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, d.session(-1).publishCalls())

	s := connectNow(t, m, d)
	require.NoError(t, m.Publish(ctx, "boat/relays/1/set", []byte("1"), 1))
	assert.Equal(t, []published{{topic: "boat/relays/1/set", payload: "1", qos: 1}}, s.publishCalls())

	s.drop(nil)
	waitFor(t, func() bool { return m.State() == StateDisconnected })
	assert.ErrorIs(t, m.Publish(ctx, "boat/relays/1/set", []byte("0"), 1), ErrNotConnected)
	assert.Len(t, s.publishCalls(), 1)
}

func TestManager_PublishValidation(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)
	connectNow(t, m, d)
	ctx := context.Background()

	assert.ErrorIs(t, m.Publish(ctx, "", []byte("x"), 0), ErrInvalidTopic)
	assert.ErrorIs(t, m.Publish(ctx, "a", []byte("x"), 3), ErrInvalidQoS)
	big := []byte(strings.Repeat("x", MaxPayloadSize+1))
	assert.ErrorIs(t, m.Publish(ctx, "a", big, 0), ErrPayloadTooLarge)
}

func TestManager_PublishAckFailure(t *testing.T) {
	d := &fakeDialer{ackErr: errors.New("broker rejected")}
	m, _, _ := newTestManager(t, d)
	connectNow(t, m, d)

	err := m.Publish(context.Background(), "a", []byte("x"), 1)
	assert.ErrorIs(t, err, ErrPublishFailed)
}

func TestManager_SubscribePrecondition(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)

	err := m.Subscribe(context.Background(), "boat/#")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, m.Subscriptions())
	assert.Empty(t, d.session(-1).subscribeCalls())

	assert.ErrorIs(t, m.Subscribe(context.Background()), ErrInvalidTopic)
}

func TestManager_SubscribeFailureForgetsTopics(t *testing.T) {
	d := &fakeDialer{ackErr: errors.New("not authorised")}
	m, _, _ := newTestManager(t, d)
	connectNow(t, m, d)

	err := m.Subscribe(context.Background(), "boat/#")
	assert.ErrorIs(t, err, ErrSubscribeFailed)
	assert.Empty(t, m.Subscriptions())
}

func TestManager_SubscriptionReplay(t *testing.T) {
	d := &fakeDialer{}
	m, clock, _ := newTestManager(t, d)
	ctx := context.Background()

	first := connectNow(t, m, d)
	require.NoError(t, m.Subscribe(ctx, "A", "B"))
	require.NoError(t, m.Subscribe(ctx, "A"))
	assert.Equal(t, []string{"A", "B"}, m.Subscriptions())
	assert.Equal(t, [][]string{{"A", "B"}, {"A"}}, first.subscribeCalls())

	first.drop(errors.New("keepalive timeout"))
	waitFor(t, func() bool { return m.RetryCount() == 1 })
	clock.Advance(MinDelay)
	waitFor(t, func() bool { return d.dials() == 2 })

	second := connectNow(t, m, d)
	waitFor(t, func() bool { return len(second.subscribeCalls()) == 1 })
	assert.Equal(t, [][]string{{"A", "B"}}, second.subscribeCalls())
}

func TestManager_Unsubscribe(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := newTestManager(t, d)
	ctx := context.Background()

	s := connectNow(t, m, d)
	require.NoError(t, m.Subscribe(ctx, "A", "B"))
	require.NoError(t, m.Unsubscribe(ctx, "A"))

	assert.Equal(t, []string{"B"}, m.Subscriptions())
	s.mu.Lock()
	assert.Equal(t, [][]string{{"A"}}, s.unsubscribes)
	s.mu.Unlock()
}

// =============================================================================
// Events
// =============================================================================

func TestManager_MessagesPreserveOrder(t *testing.T) {
	d := &fakeDialer{}
	var mu sync.Mutex
	var got []string
	m, _, _ := newTestManager(t, d, WithCallbacks(Callbacks{
		OnMessage: func(topic string, payload []byte) {
			mu.Lock()
			got = append(got, topic+"="+string(payload))
			mu.Unlock()
		},
	}))

	s := connectNow(t, m, d)
	var want []string
	for i := 0; i < 200; i++ {
		topic := fmt.Sprintf("boat/temp/%d", i)
		s.sink.Message(topic, []byte("21.5"))
		want = append(want, topic+"=21.5")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	})
	mu.Lock()
	assert.Equal(t, want, got)
	mu.Unlock()
}

func TestManager_StaleSessionEventsIgnored(t *testing.T) {
	d := &fakeDialer{}
	m, clock, rec := newTestManager(t, d)

	first := connectNow(t, m, d)
	first.drop(nil)
	waitFor(t, func() bool { return m.RetryCount() == 1 })
	clock.Advance(MinDelay)
	waitFor(t, func() bool { return d.dials() == 2 })
	connectNow(t, m, d)

	first.sink.Message("late", []byte("x"))
	first.sink.Closed(nil)
	assert.Never(t, func() bool {
		return rec.count(EventMessage) > 0 || m.State() != StateConnected
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestManager_CallbackMayCallBack(t *testing.T) {
	d := &fakeDialer{}
	done := make(chan error, 1)
	var m *Manager
	m, _, _ = newTestManager(t, d, WithDeferredConnect(), WithCallbacks(Callbacks{
		OnConnect: func() {
			done <- m.Subscribe(context.Background(), "boat/#")
		},
	}))
	require.NoError(t, m.Connect())

	connectNow(t, m, d)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe from OnConnect deadlocked")
	}
	assert.Equal(t, []string{"boat/#"}, m.Subscriptions())
}

func TestManager_ListenerPanicIsRecovered(t *testing.T) {
	d := &fakeDialer{}
	m, _, rec := newTestManager(t, d, WithCallbacks(Callbacks{
		OnConnect: func() { panic("boom") },
	}))

	connectNow(t, m, d)
	waitFor(t, func() bool { return rec.count(EventConnected) == 1 })
	assert.Equal(t, StateConnected, m.State())
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestManager_Close(t *testing.T) {
	d := &fakeDialer{}
	m, clock, _ := newTestManager(t, d)

	s := d.session(-1)
	s.drop(nil)
	waitFor(t, func() bool { return m.RetryCount() == 1 })

	m.Close()
	m.Close()

	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.Connect(), ErrClosed)
	assert.ErrorIs(t, m.Reconnect(), ErrClosed)
	assert.ErrorIs(t, m.Publish(context.Background(), "a", nil, 0), ErrClosed)
	m.Disconnect()

	clock.Advance(time.Hour)
	assert.Never(t, func() bool { return d.dials() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

// TestManager_EndToEnd walks an unreachable endpoint coming up and a later
// reconnect with subscription replay.
func TestManager_EndToEnd(t *testing.T) {
	d := &fakeDialer{}
	m, clock, rec := newTestManager(t, d)
	ctx := context.Background()

	d.session(-1).drop(errors.New("dial tcp: connection refused"))
	waitFor(t, func() bool { return m.RetryCount() == 1 && len(rec.transitions()) == 2 })

	assert.Equal(t, []string{"idle->connecting", "connecting->disconnected"}, rec.transitions())
	assert.Equal(t, MinDelay, m.NextRetryIn())

	clock.Advance(MinDelay)
	waitFor(t, func() bool { return d.dials() == 2 })
	connectNow(t, m, d)
	assert.Equal(t, 0, m.RetryCount())

	require.NoError(t, m.Subscribe(ctx, "boat/#", "N/+/battery/Type"))

	d.session(-1).drop(nil)
	waitFor(t, func() bool { return m.RetryCount() == 1 })
	clock.Advance(MinDelay)
	waitFor(t, func() bool { return d.dials() == 3 })

	last := connectNow(t, m, d)
	waitFor(t, func() bool { return len(last.subscribeCalls()) == 1 })
	assert.Equal(t, [][]string{{"boat/#", "N/+/battery/Type"}}, last.subscribeCalls())

	waitFor(t, func() bool { return len(rec.transitions()) == 7 })
	assert.Equal(t, []string{
		"idle->connecting",
		"connecting->disconnected",
		"disconnected->reconnecting",
		"reconnecting->connected",
		"connected->disconnected",
		"disconnected->reconnecting",
		"reconnecting->connected",
	}, rec.transitions())
}
