package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ampmatter/ampmatter-core/internal/connection"
)

// Publish sends a non-retained message.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Commands such as relay set and inverter mode are never retained; the
// device publishes the resulting state on its own topic.
func (s *session) Publish(topic string, payload []byte, qos byte) connection.Ack {
	return awaitToken(s.client.Publish(topic, qos, false, payload))
}

// awaitToken adapts a paho token to a connection.Ack.
func awaitToken(token pahomqtt.Token) connection.Ack {
	return func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultAckTimeout)
			defer cancel()
		}

		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
}
