// Package api implements the dashboard's HTTP REST API and WebSocket server.
//
// This package provides:
//   - Connection status and manual reconnect/disconnect for every managed link
//   - The connection journal, newest first
//   - Snapshot endpoints for sensors, weather and navigation
//   - Relay and inverter/charger commands
//   - A WebSocket hub that fans feed updates and state changes out to clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// A disabled feed answers 404. A command to a feed whose broker session is
// down answers 503 without touching the broker, so the dashboard can show
// the cached state and the reconnect countdown instead.
package api
