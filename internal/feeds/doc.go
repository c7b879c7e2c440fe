// Package feeds turns raw MQTT traffic into boat state.
//
// Each feed owns one connection.Manager with its own client identity, so a
// broker hiccup on one feature never takes the others down:
//
//   - Sensors: tank levels, temperature probes, digital inputs and the
//     Venus OS battery chemistry (boat/#, N/+/battery/Type)
//   - Relays: relay board state and commands ({prefix}/+/state, {prefix}/{id}/set)
//   - Victron: MultiPlus inverter/charger mode ({prefix}/vebus/{instance}/Mode)
//   - Weather: barometric pressure, air temperature and humidity
//   - GPS: position, course, speed, heading, depth and wind ({prefix}/#)
//
// Feeds subscribe once on their first connection; the manager replays the
// subscription after every reconnect. Parsed readings are pushed to a
// Broadcaster and, when numeric, to a Recorder. Malformed payloads are
// logged at debug level and dropped.
package feeds
