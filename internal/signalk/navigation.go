package signalk

import (
	"math"
	"sync"
	"time"
)

// Unit conversions from SignalK's SI units to dashboard units.
const (
	msToKnots = 1.94384
	radToDeg  = 180 / math.Pi
)

// Position is a latitude/longitude fix in decimal degrees.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// Depth readings in metres.
type Depth struct {
	BelowTransducer float64 `json:"belowTransducer"`
}

// Wind readings, speed in knots and angle in degrees.
type Wind struct {
	SpeedApparent float64 `json:"speedApparent"`
	AngleApparent float64 `json:"angleApparent"`
}

// NavigationData is the dashboard's view of vessel navigation.
type NavigationData struct {
	SelfID            string    `json:"selfId,omitempty"`
	Position          *Position `json:"position"`
	CourseOverGround  *float64  `json:"courseOverGround"`
	SpeedOverGround   *float64  `json:"speedOverGround"`
	SpeedThroughWater *float64  `json:"speedThroughWater,omitempty"`
	HeadingMagnetic   *float64  `json:"headingMagnetic,omitempty"`
	HeadingTrue       *float64  `json:"headingTrue,omitempty"`
	Depth             *Depth    `json:"depth,omitempty"`
	Wind              *Wind     `json:"wind,omitempty"`
	LastUpdate        time.Time `json:"lastUpdate,omitzero"`
}

// Navigation folds SignalK values into a NavigationData snapshot.
// Safe for concurrent use.
type Navigation struct {
	mu   sync.RWMutex
	data NavigationData
}

// NewNavigation returns an empty tracker.
func NewNavigation() *Navigation {
	return &Navigation{}
}

// SetSelf records the vessel identity from a hello.
func (n *Navigation) SetSelf(selfID string) {
	n.mu.Lock()
	n.data.SelfID = selfID
	n.mu.Unlock()
}

// Apply folds one value into the snapshot and reports whether the path was
// recognised. Unknown paths still bump LastUpdate.
func (n *Navigation) Apply(v Value, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.data.LastUpdate = now

	switch v.Path {
	case "navigation.position":
		obj, ok := v.Value.(map[string]any)
		if !ok {
			return false
		}
		lat, latOK := obj["latitude"].(float64)
		lon, lonOK := obj["longitude"].(float64)
		if !latOK || !lonOK {
			return false
		}
		pos := &Position{Latitude: lat, Longitude: lon}
		if alt, ok := obj["altitude"].(float64); ok {
			pos.Altitude = &alt
		}
		n.data.Position = pos
	case "navigation.courseOverGroundTrue":
		return setConverted(&n.data.CourseOverGround, v.Value, radToDeg)
	case "navigation.speedOverGround":
		return setConverted(&n.data.SpeedOverGround, v.Value, msToKnots)
	case "navigation.speedThroughWater":
		return setConverted(&n.data.SpeedThroughWater, v.Value, msToKnots)
	case "navigation.headingMagnetic":
		return setConverted(&n.data.HeadingMagnetic, v.Value, radToDeg)
	case "navigation.headingTrue":
		return setConverted(&n.data.HeadingTrue, v.Value, radToDeg)
	case "environment.depth.belowTransducer":
		f, ok := v.Value.(float64)
		if !ok {
			return false
		}
		n.data.Depth = &Depth{BelowTransducer: f}
	case "environment.wind.speedApparent":
		f, ok := v.Value.(float64)
		if !ok {
			return false
		}
		n.wind().SpeedApparent = f * msToKnots
	case "environment.wind.angleApparent":
		f, ok := v.Value.(float64)
		if !ok {
			return false
		}
		n.wind().AngleApparent = f * radToDeg
	default:
		return false
	}
	return true
}

func (n *Navigation) wind() *Wind {
	if n.data.Wind == nil {
		n.data.Wind = &Wind{}
	}
	return n.data.Wind
}

func setConverted(dst **float64, raw any, factor float64) bool {
	f, ok := raw.(float64)
	if !ok {
		return false
	}
	v := f * factor
	*dst = &v
	return true
}

// Snapshot returns a copy of the current navigation data.
func (n *Navigation) Snapshot() NavigationData {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := n.data
	if n.data.Position != nil {
		p := *n.data.Position
		out.Position = &p
	}
	if n.data.Depth != nil {
		d := *n.data.Depth
		out.Depth = &d
	}
	if n.data.Wind != nil {
		w := *n.data.Wind
		out.Wind = &w
	}
	return out
}

// Reset clears everything except the identity.
func (n *Navigation) Reset() {
	n.mu.Lock()
	n.data = NavigationData{SelfID: n.data.SelfID}
	n.mu.Unlock()
}
