package feeds

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// subscribeTimeout bounds the initial subscription issued on connect.
const subscribeTimeout = 10 * time.Second

// publishTimeout bounds command publishes when the caller's context has
// no deadline.
const publishTimeout = 5 * time.Second

// Broadcaster pushes parsed updates to live clients (the WebSocket hub).
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder stores numeric readings (InfluxDB).
type Recorder interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
}

// Broker is the MQTT broker every feed connects to.
type Broker struct {
	URL            string
	Username       string
	Password       string
	QoS            byte
	ClientIDPrefix string
}

// Deps holds what every feed needs. Only Dialer is required.
type Deps struct {
	Broker      Broker
	Dialer      connection.Dialer
	Logger      connection.Logger
	Clock       clockwork.Clock
	Broadcaster Broadcaster
	Recorder    Recorder

	// Observers receive every connection event of the feed's manager.
	Observers []func(connection.Event)
}

// feed is the shared plumbing: one manager, its initial subscription and
// the optional outputs.
type feed struct {
	feature string
	mgr     *connection.Manager
	logger  connection.Logger
	clock   clockwork.Clock
	out     Broadcaster
	rec     Recorder

	topics     []string
	subscribed atomic.Bool
}

// ClientID builds "{prefix}-{feature}-{random8}". Every session gets a
// unique identity so feeds never evict each other on the broker.
func ClientID(prefix, feature string) string {
	if prefix == "" {
		prefix = "ampmatter"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, feature, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// ConnectionName returns the registry name of a feed, e.g. "mqtt.relays".
func ConnectionName(feature string) string {
	return "mqtt." + feature
}

// newFeed wires a manager whose messages go to onMessage. topics are
// subscribed on the first successful connection and replayed by the
// manager afterwards. Nothing is dialled until start.
func newFeed(feature string, deps Deps, topics []string, onMessage func(topic string, payload []byte)) *feed {
	f := &feed{
		feature: feature,
		logger:  deps.Logger,
		clock:   deps.Clock,
		out:     deps.Broadcaster,
		rec:     deps.Recorder,
		topics:  topics,
	}
	if f.logger == nil {
		f.logger = nopLogger{}
	}
	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}

	opts := []connection.Option{
		connection.WithClock(f.clock),
		connection.WithLogger(f.logger),
		connection.WithSubscribeQoS(deps.Broker.QoS),
		connection.WithDeferredConnect(),
		connection.WithCallbacks(connection.Callbacks{
			OnConnect: f.handleConnect,
			OnMessage: onMessage,
			OnError: func(err error) {
				f.logger.Warn("feed transport error", "feed", feature, "error", err)
			},
		}),
	}
	for _, fn := range deps.Observers {
		opts = append(opts, connection.WithObserver(fn))
	}

	f.mgr = connection.New(ConnectionName(feature), deps.Dialer, connection.Target{
		URL:      deps.Broker.URL,
		ClientID: ClientID(deps.Broker.ClientIDPrefix, feature),
		Username: deps.Broker.Username,
		Password: deps.Broker.Password,
	}, opts...)

	return f
}

// start connects the manager. Constructors call it after storing the feed
// in their own struct, since handlers run on the dispatcher and reach the
// feed through it.
func (f *feed) start() {
	_ = f.mgr.Connect()
}

// handleConnect issues the initial subscription once. Later connections
// rely on the manager's replay.
func (f *feed) handleConnect() {
	if len(f.topics) == 0 || f.subscribed.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()

	if err := f.mgr.Subscribe(ctx, f.topics...); err != nil {
		f.logger.Warn("feed subscribe failed", "feed", f.feature, "topics", f.topics, "error", err)
		return
	}
	f.subscribed.Store(true)
	f.logger.Info("feed subscribed", "feed", f.feature, "topics", f.topics)
}

func (f *feed) broadcast(channel string, payload any) {
	if f.out != nil {
		f.out.Broadcast(channel, payload)
	}
}

func (f *feed) record(measurement string, tags map[string]string, fields map[string]any) {
	if f.rec != nil && len(fields) > 0 {
		f.rec.WritePoint(measurement, tags, fields)
	}
}

// dropped logs a payload that could not be used.
func (f *feed) dropped(topic string, err error) {
	f.logger.Debug("feed payload ignored", "feed", f.feature, "topic", topic, "error", err)
}

// publish sends a command with a default timeout.
func (f *feed) publish(ctx context.Context, topic string, payload []byte, qos byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	return f.mgr.Publish(ctx, topic, payload, qos)
}

// Manager exposes the feed's connection manager.
func (f *feed) Manager() *connection.Manager { return f.mgr }

// Name returns the feed's connection name.
func (f *feed) Name() string { return f.mgr.Name() }

// Status returns the feed's connection snapshot.
func (f *feed) Status() connection.Status { return f.mgr.Status() }

// Close tears the feed's connection down.
func (f *feed) Close() { f.mgr.Close() }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
