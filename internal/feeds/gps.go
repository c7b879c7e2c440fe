package feeds

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/infrastructure/mqtt"
)

// DefaultGPSPrefix is the network GPS topic prefix.
const DefaultGPSPrefix = "gps"

// GPSPosition is a fix in decimal degrees.
type GPSPosition struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// GPSDepth is the depth below the transducer in metres.
type GPSDepth struct {
	BelowTransducer float64  `json:"belowTransducer"`
	BelowKeel       *float64 `json:"belowKeel,omitempty"`
	BelowSurface    *float64 `json:"belowSurface,omitempty"`
}

// GPSWind is apparent wind, speed in knots and angle in degrees.
type GPSWind struct {
	SpeedApparent float64 `json:"speedApparent"`
	AngleApparent float64 `json:"angleApparent"`
}

// GPSSnapshot is the network GPS view of navigation.
type GPSSnapshot struct {
	Fix              bool         `json:"fix"`
	Position         *GPSPosition `json:"position"`
	CourseOverGround *float64     `json:"courseOverGround"`
	SpeedOverGround  *float64     `json:"speedOverGround"`
	HeadingMagnetic  *float64     `json:"headingMagnetic"`
	Depth            *GPSDepth    `json:"depth,omitempty"`
	Wind             *GPSWind     `json:"wind,omitempty"`
	LastUpdate       time.Time    `json:"lastUpdate,omitzero"`
}

// GPS is the network GPS feed. Fields are dispatched on the last topic
// level, so gps/position and gps/nmea/position are treated alike.
type GPS struct {
	*feed

	mu   sync.RWMutex
	snap GPSSnapshot
}

// NewGPS starts the GPS feed on {prefix}/#.
func NewGPS(deps Deps, prefix string) *GPS {
	if prefix == "" {
		prefix = DefaultGPSPrefix
	}
	g := &GPS{}
	g.feed = newFeed("gps", deps, []string{mqtt.Topics{}.AllGPS(prefix)}, g.handleMessage)
	g.start()
	return g
}

func (g *GPS) handleMessage(topic string, payload []byte) {
	field := mqtt.LastSegment(topic)

	var err error
	switch field {
	case "position":
		err = g.handlePosition(payload)
	case "course":
		err = g.handleScalar(payload, func(s *GPSSnapshot, v *float64) { s.CourseOverGround = v })
	case "speed":
		err = g.handleScalar(payload, func(s *GPSSnapshot, v *float64) { s.SpeedOverGround = v })
	case "heading":
		err = g.handleScalar(payload, func(s *GPSSnapshot, v *float64) { s.HeadingMagnetic = v })
	case "depth":
		err = g.handleDepth(payload)
	case "wind":
		err = g.handleWind(payload)
	default:
		return
	}
	if err != nil {
		g.dropped(topic, err)
		return
	}

	g.broadcast("navigation.update", g.Snapshot())
	g.recordField(field)
}

func (g *GPS) update(fn func(*GPSSnapshot)) {
	g.mu.Lock()
	fn(&g.snap)
	g.snap.LastUpdate = g.clock.Now()
	g.mu.Unlock()
}

func (g *GPS) handlePosition(payload []byte) error {
	var msg struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Altitude  *float64 `json:"altitude"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if msg.Latitude == nil || msg.Longitude == nil {
		return fmt.Errorf("%w: position needs latitude and longitude", ErrMalformedPayload)
	}

	pos := &GPSPosition{Latitude: *msg.Latitude, Longitude: *msg.Longitude, Altitude: msg.Altitude}
	g.update(func(s *GPSSnapshot) {
		s.Position = pos
		s.Fix = validFix(pos)
	})
	return nil
}

// validFix rejects the 0,0 placeholder receivers emit before a lock.
func validFix(p *GPSPosition) bool {
	if p == nil || (p.Latitude == 0 && p.Longitude == 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func (g *GPS) handleScalar(payload []byte, set func(*GPSSnapshot, *float64)) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrMalformedPayload, payload)
	}
	g.update(func(s *GPSSnapshot) { set(s, &v) })
	return nil
}

func (g *GPS) handleDepth(payload []byte) error {
	depth := &GPSDepth{}

	if v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64); err == nil {
		depth.BelowTransducer = v
	} else {
		var msg struct {
			BelowTransducer *float64 `json:"belowTransducer"`
			Value           *float64 `json:"value"`
			BelowKeel       *float64 `json:"belowKeel"`
			BelowSurface    *float64 `json:"belowSurface"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		switch {
		case msg.BelowTransducer != nil:
			depth.BelowTransducer = *msg.BelowTransducer
		case msg.Value != nil:
			depth.BelowTransducer = *msg.Value
		default:
			return fmt.Errorf("%w: depth without value", ErrMalformedPayload)
		}
		depth.BelowKeel = msg.BelowKeel
		depth.BelowSurface = msg.BelowSurface
	}

	g.update(func(s *GPSSnapshot) { s.Depth = depth })
	return nil
}

func (g *GPS) handleWind(payload []byte) error {
	var msg struct {
		SpeedApparent *float64 `json:"speedApparent"`
		AngleApparent *float64 `json:"angleApparent"`
		Speed         *float64 `json:"speed"`
		Angle         *float64 `json:"angle"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	wind := &GPSWind{
		SpeedApparent: deref(msg.SpeedApparent, deref(msg.Speed, 0)),
		AngleApparent: deref(msg.AngleApparent, deref(msg.Angle, 0)),
	}
	g.update(func(s *GPSSnapshot) { s.Wind = wind })
	return nil
}

// recordField writes the numeric value of field from the current snapshot.
func (g *GPS) recordField(field string) {
	snap := g.Snapshot()
	fields := map[string]any{}

	switch field {
	case "position":
		if snap.Position != nil {
			fields["latitude"] = snap.Position.Latitude
			fields["longitude"] = snap.Position.Longitude
		}
	case "course":
		addFloat(fields, "course", snap.CourseOverGround)
	case "speed":
		addFloat(fields, "speed", snap.SpeedOverGround)
	case "heading":
		addFloat(fields, "heading", snap.HeadingMagnetic)
	case "depth":
		if snap.Depth != nil {
			fields["depth"] = snap.Depth.BelowTransducer
		}
	case "wind":
		if snap.Wind != nil {
			fields["wind_speed"] = snap.Wind.SpeedApparent
			fields["wind_angle"] = snap.Wind.AngleApparent
		}
	}
	g.record("navigation", map[string]string{"source": "gps"}, fields)
}

func addFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

// Snapshot returns a copy of the latest GPS data.
func (g *GPS) Snapshot() GPSSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := g.snap
	if g.snap.Position != nil {
		p := *g.snap.Position
		out.Position = &p
	}
	if g.snap.Depth != nil {
		d := *g.snap.Depth
		out.Depth = &d
	}
	if g.snap.Wind != nil {
		w := *g.snap.Wind
		out.Wind = &w
	}
	return out
}
