package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// subscribeReplayTimeout bounds the wait for replayed subscriptions.
const subscribeReplayTimeout = 10 * time.Second

// Manager owns one logical connection with automatic reconnection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Internal state is owned by a single loop goroutine; Status reads a
//     snapshot published after every transition.
type Manager struct {
	name   string
	dialer Dialer
	target Target
	clock  clockwork.Clock
	logger Logger
	subQoS byte

	deferred bool

	reqs    chan func()
	inbox   *queue[transportEvent]
	events  *dispatcher
	quit    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	status    atomic.Pointer[Status]

	// Loop-owned state below this line.
	state    State
	since    time.Time
	retry    RetryState
	lastErr  error
	manual   bool
	subs     *SubscriptionSet
	session  Session
	gen      uint64
	pending  bool
	timer    clockwork.Timer
	timerGen uint64
}

type transportKind uint8

const (
	tkConnected transportKind = iota + 1
	tkMessage
	tkClosed
	tkFailed
	tkRetryDue
)

type transportEvent struct {
	kind    transportKind
	gen     uint64
	topic   string
	payload []byte
	err     error
}

// sessionSink routes transport callbacks into the manager inbox, tagged
// with the generation of the session they belong to.
type sessionSink struct {
	inbox *queue[transportEvent]
	gen   uint64
}

func (s sessionSink) Connected() {
	s.inbox.push(transportEvent{kind: tkConnected, gen: s.gen})
}

func (s sessionSink) Message(topic string, payload []byte) {
	s.inbox.push(transportEvent{kind: tkMessage, gen: s.gen, topic: topic, payload: payload})
}

func (s sessionSink) Closed(err error) {
	s.inbox.push(transportEvent{kind: tkClosed, gen: s.gen, err: err})
}

func (s sessionSink) Failed(err error) {
	s.inbox.push(transportEvent{kind: tkFailed, gen: s.gen, err: err})
}

// New creates a manager and, unless WithDeferredConnect is given, starts
// the first connection attempt.
//
// Parameters:
//   - name: Identifier used in logs, metrics and events (e.g. "mqtt.relays")
//   - dialer: Transport that opens sessions
//   - target: Address and identity; zero timeouts take the package defaults
//   - opts: Optional behaviour
//
// Returns:
//   - *Manager: Running manager; call Close to tear it down
func New(name string, dialer Dialer, target Target, opts ...Option) *Manager {
	if target.ConnectTimeout <= 0 {
		target.ConnectTimeout = DefaultConnectTimeout
	}
	if target.KeepAlive <= 0 {
		target.KeepAlive = DefaultKeepAlive
	}

	m := &Manager{
		name:    name,
		dialer:  dialer,
		target:  target,
		clock:   clockwork.NewRealClock(),
		logger:  noopLogger{},
		reqs:    make(chan func()),
		inbox:   newQueue[transportEvent](),
		events:  newDispatcher(noopLogger{}),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		state:   StateIdle,
		subs:    NewSubscriptionSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.clock.Now()
	m.publishStatus()

	go m.events.run()
	go m.run()

	if !m.deferred {
		m.do(m.connectLocked)
	}
	return m
}

// Name returns the manager's identifier.
func (m *Manager) Name() string {
	return m.name
}

// Target returns the dial target with defaults applied.
func (m *Manager) Target() Target {
	return m.target
}

// Observe registers an additional event listener.
func (m *Manager) Observe(fn func(Event)) {
	m.events.add(fn)
}

// =============================================================================
// Public operations
// =============================================================================

// Connect starts an attempt unless one is in flight, the session is up, or
// a manual disconnect is in effect.
func (m *Manager) Connect() error {
	if !m.do(m.connectLocked) {
		return ErrClosed
	}
	return nil
}

// Disconnect closes the connection and suppresses automatic reconnection
// until Reconnect is called. It is idempotent and safe in any state.
func (m *Manager) Disconnect() {
	m.do(m.disconnectLocked)
}

// Reconnect clears a manual disconnect and starts a fresh attempt with the
// retry count reset.
func (m *Manager) Reconnect() error {
	ok := m.do(func() {
		m.disconnectLocked()
		m.manual = false
		m.retry = RetryState{}
		m.publishStatus()
		m.connectLocked()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Publish sends payload to topic.
//
// It fails immediately with ErrNotConnected, without touching the
// transport, unless the manager is connected. Otherwise it waits for the
// transport acknowledgement at the requested QoS or for ctx.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	var ack Ack
	var err error
	if !m.do(func() {
		if m.state != StateConnected || m.session == nil {
			err = ErrNotConnected
			return
		}
		ack = m.session.Publish(topic, payload, qos)
	}) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	if err := ack(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe adds topics to the subscription set and forwards them to the
// transport. The set is replayed after every reconnect. Subscribing to a
// topic twice is harmless.
func (m *Manager) Subscribe(ctx context.Context, topics ...string) error {
	if err := validateTopics(topics); err != nil {
		return err
	}

	var ack Ack
	var added []string
	var err error
	if !m.do(func() {
		if m.state != StateConnected || m.session == nil {
			err = ErrNotConnected
			return
		}
		added = m.subs.Add(topics...)
		m.publishStatus()
		ack = m.session.Subscribe(topics, m.subQoS)
	}) {
		return ErrClosed
	}
	if err != nil {
		return err
	}

	if err := ack(ctx); err != nil {
		m.do(func() {
			m.subs.Remove(added...)
			m.publishStatus()
		})
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe removes topics from the subscription set. When connected the
// request is forwarded to the transport as well.
func (m *Manager) Unsubscribe(ctx context.Context, topics ...string) error {
	if err := validateTopics(topics); err != nil {
		return err
	}

	var ack Ack
	if !m.do(func() {
		m.subs.Remove(topics...)
		m.publishStatus()
		if m.state == StateConnected && m.session != nil {
			ack = m.session.Unsubscribe(topics)
		}
	}) {
		return ErrClosed
	}
	if ack == nil {
		return nil
	}

	if err := ack(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Close tears the manager down: the retry timer is cancelled, then the
// transport is closed, then the loop and dispatcher stop. Pending events
// are still delivered. It must not be called from a callback.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.do(m.disconnectLocked)
		close(m.quit)
		<-m.stopped
		m.events.stop()
	})
}

// =============================================================================
// Observable state
// =============================================================================

// Status returns the latest snapshot.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// State returns the current connection state.
func (m *Manager) State() State {
	return m.Status().State
}

// RetryCount returns the number of consecutive failed attempts.
func (m *Manager) RetryCount() int {
	return m.Status().Retry.Count
}

// LastError returns the most recently recorded transport error.
func (m *Manager) LastError() error {
	return m.Status().LastError
}

// NextRetryIn returns the time until the next scheduled attempt, or zero.
func (m *Manager) NextRetryIn() time.Duration {
	return m.Status().RetryIn(m.clock.Now())
}

// IsConnected reports whether the manager is in StateConnected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Subscriptions returns the subscribed topics in insertion order.
func (m *Manager) Subscriptions() []string {
	var topics []string
	m.do(func() { topics = m.subs.Topics() })
	return topics
}

// =============================================================================
// Event loop
// =============================================================================

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.reqs:
			fn()
		case <-m.inbox.wake:
			for _, ev := range m.inbox.drain() {
				m.handle(ev)
			}
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. It reports false once the loop
// has stopped.
func (m *Manager) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case m.reqs <- func() {
		defer close(done)
		fn()
	}:
	case <-m.stopped:
		return false
	}
	<-done
	return true
}

func (m *Manager) handle(ev transportEvent) {
	if ev.kind == tkRetryDue {
		if ev.gen != m.timerGen || m.manual {
			return
		}
		m.timer = nil
		m.connectLocked()
		return
	}

	if ev.gen != m.gen || m.session == nil || m.manual {
		return
	}

	switch ev.kind {
	case tkConnected:
		m.handleConnected()
	case tkMessage:
		m.emit(Event{Kind: EventMessage, Topic: ev.topic, Payload: ev.payload})
	case tkClosed:
		m.handleClosed(ev.err)
	case tkFailed:
		m.handleFailed(ev.err)
	}
}

func (m *Manager) connectLocked() {
	if m.manual {
		return
	}
	if m.session != nil && (m.pending || m.session.IsConnected()) {
		return
	}

	m.stopTimer()
	if m.retry.Count == 0 {
		m.setState(StateConnecting)
	} else {
		m.setState(StateReconnecting)
	}

	m.gen++
	session, err := m.dialer.Dial(m.target, sessionSink{inbox: m.inbox, gen: m.gen})
	if err != nil {
		m.logger.Warn("connection attempt could not start",
			"connection", m.name,
			"url", m.target.URL,
			"error", err,
		)
		m.lastErr = err
		delay := m.armRetry()
		m.setState(StateError)
		m.emit(Event{Kind: EventError, Err: err})
		m.retryScheduled(delay)
		return
	}

	m.session = session
	m.pending = true
	m.logger.Debug("connection attempt started",
		"connection", m.name,
		"url", m.target.URL,
		"retry_count", m.retry.Count,
	)
}

func (m *Manager) handleConnected() {
	m.pending = false
	m.lastErr = nil
	m.retry = RetryState{}
	m.setState(StateConnected)
	m.logger.Info("connection established", "connection", m.name, "url", m.target.URL)

	if m.subs.Len() > 0 {
		topics := m.subs.Topics()
		ack := m.session.Subscribe(topics, m.subQoS)
		go m.awaitReplay(ack, topics)
	}

	m.emit(Event{Kind: EventConnected})
}

func (m *Manager) awaitReplay(ack Ack, topics []string) {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeReplayTimeout)
	defer cancel()
	if err := ack(ctx); err != nil {
		m.logger.Warn("subscription replay failed",
			"connection", m.name,
			"topics", topics,
			"error", err,
		)
	}
}

func (m *Manager) handleClosed(err error) {
	m.dropSession()
	delay := m.armRetry()
	m.setState(StateDisconnected)
	m.logger.Warn("connection closed", "connection", m.name, "error", err)
	m.emit(Event{Kind: EventDisconnected, Err: err})
	m.retryScheduled(delay)
}

func (m *Manager) handleFailed(err error) {
	m.lastErr = err
	m.setState(StateError)
	m.logger.Warn("connection error", "connection", m.name, "error", err)
	m.emit(Event{Kind: EventError, Err: err})
}

func (m *Manager) disconnectLocked() {
	m.manual = true
	m.stopTimer()
	m.dropSession()
	m.retry = RetryState{}
	m.setState(StateDisconnected)
}

// armRetry starts the timer for Delay(count) and increments the count.
// The caller moves to disconnected or error right after, so the
// state_changed event already carries the pending retry.
func (m *Manager) armRetry() time.Duration {
	delay := Delay(m.retry.Count)

	m.timerGen++
	gen := m.timerGen
	m.timer = m.clock.AfterFunc(delay, func() {
		m.inbox.push(transportEvent{kind: tkRetryDue, gen: gen})
	})
	m.retry = RetryState{
		Count:  m.retry.Count + 1,
		NextAt: m.clock.Now().Add(delay),
	}
	return delay
}

func (m *Manager) retryScheduled(delay time.Duration) {
	m.logger.Info("reconnect scheduled",
		"connection", m.name,
		"retry_count", m.retry.Count,
		"delay_ms", delay.Milliseconds(),
	)
	m.emit(Event{Kind: EventRetryScheduled, Delay: delay})
}

func (m *Manager) stopTimer() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) dropSession() {
	m.pending = false
	if m.session == nil {
		return
	}
	session := m.session
	m.session = nil
	m.gen++
	session.Close()
}

func (m *Manager) setState(s State) {
	if s == m.state {
		m.publishStatus()
		return
	}
	from := m.state
	m.state = s
	m.since = m.clock.Now()
	m.publishStatus()
	m.emit(Event{Kind: EventStateChanged, From: from})
}

func (m *Manager) publishStatus() {
	retry := m.retry
	if m.state == StateConnected || m.state == StateIdle || m.state == StateConnecting || m.manual {
		retry.NextAt = time.Time{}
	}
	m.status.Store(&Status{
		Name:             m.name,
		State:            m.state,
		Retry:            retry,
		LastError:        m.lastErr,
		ManualDisconnect: m.manual,
		Subscriptions:    m.subs.Len(),
		Since:            m.since,
	})
}

func (m *Manager) emit(ev Event) {
	ev.Name = m.name
	ev.Time = m.clock.Now()
	ev.Status = *m.status.Load()
	m.events.emit(ev)
}

func validateTopics(topics []string) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	for _, t := range topics {
		if t == "" {
			return ErrInvalidTopic
		}
	}
	return nil
}
