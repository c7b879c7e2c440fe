// Package influxdb records boat readings and connection history in
// InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched; asynchronous write failures are reported
// through SetOnError.
//
// Two kinds of data are stored:
//   - Readings pushed by the feeds (tank, temperature, relay, victron,
//     weather, navigation) through WritePoint
//   - Connection history (connection_state, connection_retry) through
//     Observe, which is registered as a supervisor observer
//
// When influxdb.enabled is false, Connect returns ErrDisabled and the
// dashboard runs without a time-series store.
package influxdb
