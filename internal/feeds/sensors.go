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

// Sensor hub defaults applied when a payload omits a field.
const (
	defaultTankType     = "freshWater"
	defaultTankCapacity = 100
	defaultLocation     = "unknown"
)

// Battery chemistries reported by Venus OS (N/+/battery/Type).
var batteryTypes = map[int]string{
	0: "lead-acid",
	1: "agm",
	2: "gel",
	3: "lifepo4",
}

// BatteryTypeName maps a Venus OS battery type code to its name.
func BatteryTypeName(code int) string {
	if name, ok := batteryTypes[code]; ok {
		return name
	}
	return "unknown"
}

// Tank is a tank level reading.
type Tank struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Capacity  float64   `json:"capacity"`
	Level     float64   `json:"currentLevel"`
	Raw       *float64  `json:"rawValue,omitempty"`
	UpdatedAt time.Time `json:"lastUpdate"`
}

// Temperature is a temperature probe reading.
type Temperature struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Value     float64   `json:"value"`
	MinAlarm  *float64  `json:"minAlarm,omitempty"`
	MaxAlarm  *float64  `json:"maxAlarm,omitempty"`
	UpdatedAt time.Time `json:"lastUpdate"`
}

// DigitalInput is a switch or float sensor.
type DigitalInput struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	State      bool      `json:"state"`
	Inverted   bool      `json:"inverted,omitempty"`
	LastChange time.Time `json:"lastChange"`
}

// SensorSnapshot is the latest state of every sensor seen so far.
type SensorSnapshot struct {
	HubAlive      bool           `json:"hubAlive"`
	Tanks         []Tank         `json:"tanks"`
	Temperatures  []Temperature  `json:"temperatures"`
	DigitalInputs []DigitalInput `json:"digitalInputs"`
	BatteryType   string         `json:"batteryType,omitempty"`
	LastUpdate    time.Time      `json:"lastUpdate,omitzero"`
}

// SensorUpdate is broadcast on "sensors.update" for each accepted message.
type SensorUpdate struct {
	Kind  string `json:"kind"` // tank, temperature, digital, status, battery_type
	ID    string `json:"id,omitempty"`
	Value any    `json:"value"`
}

// Sensors is the sensor hub feed: tanks, temperatures, digital inputs and
// the Venus OS battery chemistry.
type Sensors struct {
	*feed

	mu       sync.RWMutex
	tanks    map[string]Tank
	temps    map[string]Temperature
	digital  map[string]DigitalInput
	battery  string
	hubAlive bool
	updated  time.Time
}

// NewSensors starts the sensor feed.
func NewSensors(deps Deps) *Sensors {
	s := &Sensors{
		tanks:   make(map[string]Tank),
		temps:   make(map[string]Temperature),
		digital: make(map[string]DigitalInput),
	}
	t := mqtt.Topics{}
	s.feed = newFeed("sensors", deps, []string{t.AllBoat(), t.BatteryTypes()}, s.handleMessage)
	s.start()
	return s
}

func (s *Sensors) handleMessage(topic string, payload []byte) {
	if isBatteryTypeTopic(topic) {
		s.handleBatteryType(topic, payload)
		return
	}

	kind, id, ok := mqtt.Split(topic, mqtt.TopicRootBoat)
	if !ok {
		return
	}

	var err error
	switch kind {
	case "tanks":
		err = s.handleTank(id, payload)
	case "temp":
		err = s.handleTemperature(id, payload)
	case "digital":
		err = s.handleDigital(id, payload)
	case "status":
		s.mu.Lock()
		s.hubAlive = true
		s.updated = s.clock.Now()
		s.mu.Unlock()
		s.broadcast("sensors.update", SensorUpdate{Kind: "status", Value: true})
	default:
		// Weather and relay topics share the boat/ root and have their own feeds.
		return
	}
	if err != nil {
		s.dropped(topic, err)
	}
}

func isBatteryTypeTopic(topic string) bool {
	return strings.HasPrefix(topic, mqtt.TopicRootVenusNotify+"/") && strings.HasSuffix(topic, "/battery/Type")
}

func (s *Sensors) handleBatteryType(topic string, payload []byte) {
	code, err := parseVenusInt(payload)
	if err != nil {
		s.dropped(topic, err)
		return
	}
	name := BatteryTypeName(code)

	s.mu.Lock()
	s.battery = name
	s.updated = s.clock.Now()
	s.mu.Unlock()

	s.logger.Info("battery type detected", "type", name, "code", code)
	s.broadcast("sensors.update", SensorUpdate{Kind: "battery_type", Value: name})
}

// parseVenusInt accepts either a bare integer or Venus OS's {"value":n}.
func parseVenusInt(payload []byte) (int, error) {
	var wrapped struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Value != nil {
		return int(*wrapped.Value), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedPayload, payload)
	}
	return n, nil
}

func (s *Sensors) handleTank(id string, payload []byte) error {
	if id == "" {
		return ErrMalformedPayload
	}
	var msg struct {
		Name     *string  `json:"name"`
		Type     *string  `json:"type"`
		Capacity *float64 `json:"capacity"`
		Level    *float64 `json:"level"`
		Raw      *float64 `json:"raw"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	tank := Tank{
		ID:        id,
		Name:      deref(msg.Name, id),
		Type:      deref(msg.Type, defaultTankType),
		Capacity:  deref(msg.Capacity, defaultTankCapacity),
		Level:     deref(msg.Level, 0),
		Raw:       msg.Raw,
		UpdatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	s.tanks[id] = tank
	s.updated = tank.UpdatedAt
	s.mu.Unlock()

	s.broadcast("sensors.update", SensorUpdate{Kind: "tank", ID: id, Value: tank})
	s.record("tank", map[string]string{"tank": id, "type": tank.Type}, map[string]any{
		"level":    tank.Level,
		"capacity": tank.Capacity,
	})
	return nil
}

func (s *Sensors) handleTemperature(id string, payload []byte) error {
	if id == "" {
		return ErrMalformedPayload
	}

	temp := Temperature{ID: id, Name: id, Location: defaultLocation}

	if v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64); err == nil {
		temp.Value = v
	} else {
		var msg struct {
			Name     *string  `json:"name"`
			Location *string  `json:"location"`
			Value    *float64 `json:"value"`
			MinAlarm *float64 `json:"minAlarm"`
			MaxAlarm *float64 `json:"maxAlarm"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		if msg.Value == nil {
			return fmt.Errorf("%w: temperature without value", ErrMalformedPayload)
		}
		temp.Name = deref(msg.Name, id)
		temp.Location = deref(msg.Location, defaultLocation)
		temp.Value = *msg.Value
		temp.MinAlarm = msg.MinAlarm
		temp.MaxAlarm = msg.MaxAlarm
	}
	temp.UpdatedAt = s.clock.Now()

	s.mu.Lock()
	s.temps[id] = temp
	s.updated = temp.UpdatedAt
	s.mu.Unlock()

	s.broadcast("sensors.update", SensorUpdate{Kind: "temperature", ID: id, Value: temp})
	s.record("temperature", map[string]string{"sensor": id, "location": temp.Location}, map[string]any{
		"value": temp.Value,
	})
	return nil
}

func (s *Sensors) handleDigital(id string, payload []byte) error {
	if id == "" {
		return ErrMalformedPayload
	}

	input := DigitalInput{ID: id, Name: id}

	switch strings.TrimSpace(string(payload)) {
	case "1", "true":
		input.State = true
	case "0", "false":
		input.State = false
	default:
		var msg struct {
			Name     *string `json:"name"`
			State    *bool   `json:"state"`
			Inverted bool    `json:"inverted"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
		}
		input.Name = deref(msg.Name, id)
		input.State = deref(msg.State, false)
		input.Inverted = msg.Inverted
	}
	input.LastChange = s.clock.Now()

	s.mu.Lock()
	s.digital[id] = input
	s.updated = input.LastChange
	s.mu.Unlock()

	s.broadcast("sensors.update", SensorUpdate{Kind: "digital", ID: id, Value: input})
	return nil
}

// Snapshot returns the latest readings sorted by ID.
func (s *Sensors) Snapshot() SensorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SensorSnapshot{
		HubAlive:      s.hubAlive,
		Tanks:         sortedValues(s.tanks),
		Temperatures:  sortedValues(s.temps),
		DigitalInputs: sortedValues(s.digital),
		BatteryType:   s.battery,
		LastUpdate:    s.updated,
	}
}
