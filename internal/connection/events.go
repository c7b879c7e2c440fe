package connection

import (
	"sync"
	"time"
)

// EventKind tags an Event.
type EventKind uint8

const (
	// EventStateChanged is emitted on every state transition.
	EventStateChanged EventKind = iota + 1

	// EventConnected follows the transition to StateConnected, after
	// subscriptions have been replayed.
	EventConnected

	// EventMessage carries one inbound message.
	EventMessage

	// EventDisconnected follows an unexpected close.
	EventDisconnected

	// EventError carries a transport error.
	EventError

	// EventRetryScheduled reports the delay chosen for the next attempt.
	EventRetryScheduled
)

var eventKindNames = map[EventKind]string{
	EventStateChanged:   "state_changed",
	EventConnected:      "connected",
	EventMessage:        "message",
	EventDisconnected:   "disconnected",
	EventError:          "error",
	EventRetryScheduled: "retry_scheduled",
}

func (k EventKind) String() string {
	if n, ok := eventKindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is a single ordered notification from a Manager.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	Name string
	Time time.Time

	// Status is the snapshot taken when the event was emitted.
	Status Status

	// From is the previous state for EventStateChanged.
	From State

	// Topic and Payload are set for EventMessage.
	Topic   string
	Payload []byte

	// Err is set for EventError and, when known, EventDisconnected.
	Err error

	// Delay is set for EventRetryScheduled.
	Delay time.Duration
}

// Callbacks are the optional lifecycle hooks of a Manager. Each is invoked
// at most once per corresponding event, on the dispatcher goroutine.
type Callbacks struct {
	OnConnect    func()
	OnMessage    func(topic string, payload []byte)
	OnDisconnect func(err error)
	OnError      func(err error)
}

func (c Callbacks) listener() func(Event) {
	return func(ev Event) {
		switch ev.Kind {
		case EventConnected:
			if c.OnConnect != nil {
				c.OnConnect()
			}
		case EventMessage:
			if c.OnMessage != nil {
				c.OnMessage(ev.Topic, ev.Payload)
			}
		case EventDisconnected:
			if c.OnDisconnect != nil {
				c.OnDisconnect(ev.Err)
			}
		case EventError:
			if c.OnError != nil {
				c.OnError(ev.Err)
			}
		}
	}
}

// queue is an unbounded FIFO with a level-triggered wake channel.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	wake  chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{wake: make(chan struct{}, 1)}
}

func (q *queue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// dispatcher delivers events to listeners in order on its own goroutine.
type dispatcher struct {
	q      *queue[Event]
	logger Logger

	mu        sync.RWMutex
	listeners []func(Event)

	quit chan struct{}
	done chan struct{}
}

func newDispatcher(logger Logger) *dispatcher {
	return &dispatcher{
		q:      newQueue[Event](),
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (d *dispatcher) add(fn func(Event)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.q.push(ev)
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.q.wake:
			d.deliver(d.q.drain())
		case <-d.quit:
			d.deliver(d.q.drain())
			return
		}
	}
}

// stop flushes pending events and waits for the goroutine to exit.
// It must not be called from a listener.
func (d *dispatcher) stop() {
	close(d.quit)
	<-d.done
}

func (d *dispatcher) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()

	for _, ev := range events {
		for _, fn := range listeners {
			d.call(fn, ev)
		}
	}
}

func (d *dispatcher) call(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("connection listener panic recovered",
				"connection", ev.Name,
				"event", ev.Kind.String(),
				"panic", r,
			)
		}
	}()
	fn(ev)
}
