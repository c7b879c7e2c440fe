package feeds

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/connection"
	"github.com/ampmatter/ampmatter-core/internal/infrastructure/mqtt"
)

// DefaultRelayPrefix is the relay board's topic prefix.
const DefaultRelayPrefix = "boat/relays"

// relayQoS is used for relay commands.
const relayQoS = 1

// RelayDef describes a configured relay channel.
type RelayDef struct {
	ID   string
	Name string
}

// Relay is the current state of one relay.
type Relay struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       bool      `json:"state"`
	LastChanged time.Time `json:"lastChanged"`
}

// Relays controls the relay board: it tracks {prefix}/{id}/state and
// commands {prefix}/{id}/set.
type Relays struct {
	*feed
	prefix string

	// cmdMu serialises Set so a revert never races a newer command.
	cmdMu sync.Mutex

	mu     sync.RWMutex
	relays map[string]Relay
}

// NewRelays starts the relay feed. Configured relays start off; relays
// the board reports but the config omits are tracked as they appear.
func NewRelays(deps Deps, prefix string, defs []RelayDef) *Relays {
	if prefix == "" {
		prefix = DefaultRelayPrefix
	}
	r := &Relays{
		prefix: prefix,
		relays: make(map[string]Relay, len(defs)),
	}

	now := time.Now()
	if deps.Clock != nil {
		now = deps.Clock.Now()
	}
	for _, d := range defs {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		r.relays[d.ID] = Relay{ID: d.ID, Name: name, LastChanged: now}
	}

	r.feed = newFeed("relays", deps, []string{mqtt.Topics{}.RelayStates(prefix)}, r.handleMessage)
	r.start()
	return r
}

// parseRelayState reports whether payload means "on".
func parseRelayState(payload []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on":
		return true
	}
	return false
}

func (r *Relays) handleMessage(topic string, payload []byte) {
	id, rest, ok := mqtt.Split(topic, r.prefix)
	if !ok || rest != "state" {
		return
	}
	r.apply(id, parseRelayState(payload))
}

// apply stores a relay state and broadcasts it when it changed.
func (r *Relays) apply(id string, on bool) Relay {
	r.mu.Lock()
	relay, exists := r.relays[id]
	if !exists {
		relay = Relay{ID: id, Name: id}
	}
	changed := !exists || relay.State != on
	relay.State = on
	if changed {
		relay.LastChanged = r.clock.Now()
	}
	r.relays[id] = relay
	r.mu.Unlock()

	if changed {
		r.broadcast("relays.state", relay)
		state := 0
		if on {
			state = 1
		}
		r.record("relay", map[string]string{"relay": id}, map[string]any{"state": state})
	}
	return relay
}

// Set switches a relay.
//
// The local state changes first so the dashboard reacts immediately, then
// "1" or "0" is published at QoS 1 on {prefix}/{id}/set. If the publish
// fails the previous state is restored and the error returned. Nothing is
// changed when the feed is not connected.
func (r *Relays) Set(ctx context.Context, id string, on bool) (Relay, error) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()
	return r.setLocked(ctx, id, on)
}

func (r *Relays) setLocked(ctx context.Context, id string, on bool) (Relay, error) {
	r.mu.RLock()
	prev, exists := r.relays[id]
	r.mu.RUnlock()
	if !exists {
		return Relay{}, fmt.Errorf("%w: %s", ErrUnknownRelay, id)
	}
	if !r.mgr.IsConnected() {
		return prev, fmt.Errorf("relay %s: %w", id, connection.ErrNotConnected)
	}

	updated := r.apply(id, on)

	payload := []byte("0")
	if on {
		payload = []byte("1")
	}
	if err := r.publish(ctx, mqtt.Topics{}.RelaySet(r.prefix, id), payload, relayQoS); err != nil {
		r.restore(prev)
		r.logger.Warn("relay command failed, state reverted", "relay", id, "on", on, "error", err)
		return prev, fmt.Errorf("relay %s: %w", id, err)
	}

	r.logger.Info("relay switched", "relay", id, "on", on)
	return updated, nil
}

// restore puts back a relay exactly as it was before a failed command.
func (r *Relays) restore(prev Relay) {
	r.mu.Lock()
	r.relays[prev.ID] = prev
	r.mu.Unlock()
	r.broadcast("relays.state", prev)
}

// Toggle flips a relay.
func (r *Relays) Toggle(ctx context.Context, id string) (Relay, error) {
	r.cmdMu.Lock()
	defer r.cmdMu.Unlock()

	current, ok := r.Get(id)
	if !ok {
		return Relay{}, fmt.Errorf("%w: %s", ErrUnknownRelay, id)
	}
	return r.setLocked(ctx, id, !current.State)
}

// Get returns one relay.
func (r *Relays) Get(id string) (Relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relay, ok := r.relays[id]
	return relay, ok
}

// List returns all relays sorted by ID.
func (r *Relays) List() []Relay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedValues(r.relays)
}
