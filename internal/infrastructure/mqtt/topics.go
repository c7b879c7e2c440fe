package mqtt

import (
	"fmt"
	"strings"
)

// Fixed topic roots used by the boat-side publishers.
//
// Relay, inverter and GPS topics take a configurable prefix; sensor and
// weather topics are fixed by the sensor hub firmware.
const (
	TopicRootBoat    = "boat"
	TopicRootWeather = "boat/weather"

	// Venus OS publishes notifications under N/{portalId}/...
	TopicRootVenusNotify = "N"
)

// Topics provides builders for the MQTT topics the dashboard speaks.
// Using these helpers ensures consistent topic naming across the feeds.
type Topics struct{}

// =============================================================================
// Sensor Topics
// =============================================================================

// AllBoat returns the wildcard covering every sensor hub topic.
//
// Example: boat/#
func (Topics) AllBoat() string {
	return TopicRootBoat + "/#"
}

// Tank returns the topic for a tank level reading.
//
// Example: boat/tanks/fresh-1
func (Topics) Tank(id string) string {
	return fmt.Sprintf("%s/tanks/%s", TopicRootBoat, id)
}

// Temperature returns the topic for a temperature probe.
//
// Example: boat/temp/engine
func (Topics) Temperature(id string) string {
	return fmt.Sprintf("%s/temp/%s", TopicRootBoat, id)
}

// Digital returns the topic for a digital input.
//
// Example: boat/digital/bilge-float
func (Topics) Digital(id string) string {
	return fmt.Sprintf("%s/digital/%s", TopicRootBoat, id)
}

// SensorStatus returns the sensor hub heartbeat topic.
//
// Example: boat/status
func (Topics) SensorStatus() string {
	return TopicRootBoat + "/status"
}

// BatteryTypes returns the wildcard for Venus battery chemistry notifications.
//
// Example: N/+/battery/Type
func (Topics) BatteryTypes() string {
	return TopicRootVenusNotify + "/+/battery/Type"
}

// =============================================================================
// Relay Topics
// =============================================================================

// RelayStates returns the wildcard for all relay state reports.
//
// Example: boat/relays/+/state
func (Topics) RelayStates(prefix string) string {
	return prefix + "/+/state"
}

// RelayState returns the state topic for one relay.
//
// Example: boat/relays/anchor-light/state
func (Topics) RelayState(prefix, id string) string {
	return fmt.Sprintf("%s/%s/state", prefix, id)
}

// RelaySet returns the command topic for one relay.
//
// Example: boat/relays/anchor-light/set
func (Topics) RelaySet(prefix, id string) string {
	return fmt.Sprintf("%s/%s/set", prefix, id)
}

// =============================================================================
// Victron Topics
// =============================================================================

// VEBusMode returns the inverter/charger mode topic.
//
// Example: W/venus/vebus/276/Mode
func (Topics) VEBusMode(prefix string, instance int) string {
	return fmt.Sprintf("%s/vebus/%d/Mode", prefix, instance)
}

// =============================================================================
// Weather Topics
// =============================================================================

// WeatherPressure returns the barometric pressure topic.
func (Topics) WeatherPressure() string {
	return TopicRootWeather + "/pressure"
}

// WeatherTemperature returns the air temperature topic.
func (Topics) WeatherTemperature() string {
	return TopicRootWeather + "/temperature"
}

// WeatherHumidity returns the relative humidity topic.
func (Topics) WeatherHumidity() string {
	return TopicRootWeather + "/humidity"
}

// =============================================================================
// GPS Topics
// =============================================================================

// AllGPS returns the wildcard for every GPS field.
//
// Example: gps/#
func (Topics) AllGPS(prefix string) string {
	return prefix + "/#"
}

// GPS returns the topic for one GPS field (position, course, speed,
// heading, depth or wind).
//
// Example: gps/position
func (Topics) GPS(prefix, field string) string {
	return prefix + "/" + field
}

// =============================================================================
// Parsing
// =============================================================================

// Split returns the segment after prefix and the remaining path, e.g.
// Split("boat/tanks/fresh", "boat") gives ("tanks", "fresh", true).
func Split(topic, prefix string) (head, rest string, ok bool) {
	tail, found := strings.CutPrefix(topic, prefix+"/")
	if !found || tail == "" {
		return "", "", false
	}
	head, rest, _ = strings.Cut(tail, "/")
	return head, rest, true
}

// LastSegment returns the final level of a topic.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
