package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Subscribe registers topic filters in a single SUBSCRIBE packet.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "N/+/battery/Type" matches any portal ID
//   - # (multi-level): "boat/#" matches every boat topic
//
// No per-topic callback is installed; messages reach the sink through the
// session's default handler. The returned Ack also fails when the broker
// answers any filter with a SUBACK failure code.
func (s *session) Subscribe(topics []string, qos byte) connection.Ack {
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = qos
	}

	token := s.client.SubscribeMultiple(filters, nil)
	wait := awaitToken(token)

	return func(ctx context.Context) error {
		if err := wait(ctx); err != nil {
			return err
		}
		return checkSubAck(token)
	}
}

// checkSubAck inspects per-filter SUBACK codes.
func checkSubAck(token pahomqtt.Token) error {
	st, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}
	for topic, code := range st.Result() {
		if code == subackFailure {
			return fmt.Errorf("%w: %s", ErrSubscribeRejected, topic)
		}
	}
	return nil
}

// Unsubscribe removes topic filters in a single UNSUBSCRIBE packet.
func (s *session) Unsubscribe(topics []string) connection.Ack {
	return awaitToken(s.client.Unsubscribe(topics...))
}
