// Package journal keeps a durable history of connection lifecycle events
// in SQLite.
//
// A Journal is registered as a connection observer. Every state change,
// scheduled retry and transport error becomes a row in connection_events,
// which the API serves newest first and the daily prune trims.
package journal
