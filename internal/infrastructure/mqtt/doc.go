// Package mqtt provides the paho MQTT transport for ampmatter-core.
//
// This package supplies:
//   - A Dialer implementing connection.Dialer over paho.mqtt.golang
//   - Per-session message forwarding with panic recovery
//   - Topic builders for the sensor hub, relay board, Venus OS and GPS
//
// # Architecture
//
// The dashboard talks to several independent publishers on the boat's
// broker. Each feed owns a connection.Manager, and each manager asks this
// Dialer for a fresh session on every attempt:
//
//	connection.Manager → Dialer.Dial → paho client → broker
//
// paho's own reconnect machinery is switched off. Backoff, state and
// subscription replay all live in the manager.
//
// # Broker URLs
//
// Accepted schemes are mqtt, tcp, mqtts, ssl, tls, ws and wss. mqtt:// and
// mqtts:// are rewritten to tcp:// and ssl://. Secure schemes use TLS 1.2+.
//
// # Usage
//
//	m := connection.New("mqtt.sensors", mqtt.NewDialer(log), connection.Target{
//	    URL:      "mqtt://venus.local:1883",
//	    ClientID: "ampmatter-sensors-1a2b3c4d",
//	})
//	defer m.Close()
//
//	err := m.Subscribe(ctx, mqtt.Topics{}.AllBoat())
package mqtt
