// Package connection implements the reconnecting connection manager shared
// by every broker and stream client in ampmatter-core.
//
// A Manager owns exactly one logical connection. It dials through a
// transport-specific Dialer, tracks a single authoritative State, retries
// with a deterministic exponential backoff and replays the caller's
// subscriptions after every successful connect.
//
// # State machine
//
//	idle → connecting → connected → (disconnected | error) → reconnecting → connected ...
//
// A manual Disconnect parks the manager in disconnected and suppresses all
// automatic reconnection until Reconnect is called.
//
// # Backoff
//
//	Delay(n) = min(1s * 1.5^n, 30s)
//
// There is no jitter and no retry limit. The retry count is reset only by a
// confirmed connect, so a flapping link converges on the 30s ceiling.
//
// # Concurrency
//
// All mutable state is owned by one event-loop goroutine. Public methods
// post requests to the loop and wait for the reply; transport callbacks are
// queued into the loop's inbox so they never block the transport. Events are
// delivered to callbacks and observers on a separate dispatcher goroutine in
// the order the transitions happened, so callbacks may call back into the
// manager.
//
// # Usage
//
//	m := connection.New("sensors", dialer, connection.Target{
//	    URL:      "mqtt://192.168.1.10:1883",
//	    ClientID: "ampmatter-sensors-1f2e3d4c",
//	}, connection.WithCallbacks(connection.Callbacks{
//	    OnConnect: func() { log.Println("up") },
//	    OnMessage: func(topic string, payload []byte) { ... },
//	}))
//	defer m.Close()
//
//	err := m.Subscribe(ctx, "boat/#")
package connection
