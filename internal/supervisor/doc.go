// Package supervisor keeps the named registry of every connection the
// dashboard runs (mqtt.sensors, mqtt.relays, mqtt.victron, mqtt.weather,
// mqtt.gps and signalk).
//
// It answers status queries, forwards manual reconnect/disconnect
// requests, fans connection events out to observers (metrics, the
// time-series store, the connection journal and WebSocket clients) and
// closes everything in reverse registration order on shutdown.
package supervisor
