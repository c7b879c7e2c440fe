// Package signalk provides a resilient SignalK WebSocket delta stream.
//
// A Client wraps a connection.Manager with a gorilla/websocket Dialer, so
// it reconnects with the same exponential backoff (1s growing by 1.5x to a
// 30s cap) and reports the same states as the MQTT feeds.
//
// # Frames
//
// The server greets with a hello carrying the vessel identity ("self"),
// then streams deltas:
//
//	{"context":"vessels.self","updates":[{"timestamp":"...","values":[
//	    {"path":"navigation.speedOverGround","value":3.2}]}]}
//
// Every path/value pair is handed to OnValue in wire order. Frames of any
// other shape are ignored and undecodable frames are dropped with a debug
// log.
//
// # Countdown
//
// While a retry is pending the remaining time is recomputed every 100ms
// and reported through OnCountdown. It is display-only and never drives
// the retry itself.
//
// # Usage
//
//	c := signalk.New(cfg.SignalK.URL,
//	    signalk.WithLogger(log),
//	    signalk.OnValue(func(v signalk.Value) { hub.Broadcast("signalk.delta", v) }),
//	)
//	defer c.Close()
package signalk
