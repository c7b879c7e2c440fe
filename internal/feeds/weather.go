package feeds

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ampmatter/ampmatter-core/internal/infrastructure/mqtt"
)

// Pressure is a barometric reading in hPa with an optional trend
// ("rising", "steady" or "falling").
type Pressure struct {
	Value      float64   `json:"value"`
	Trend      string    `json:"trend,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Reading is a single scalar weather value.
type Reading struct {
	Value      float64   `json:"value"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// WeatherSnapshot is the latest weather station data.
type WeatherSnapshot struct {
	Pressure    *Pressure `json:"barometricPressure"`
	Temperature *Reading  `json:"temperature,omitempty"`
	Humidity    *Reading  `json:"humidity,omitempty"`
	LastUpdate  time.Time `json:"lastUpdate,omitzero"`
}

// Weather is the weather station feed.
type Weather struct {
	*feed

	mu   sync.RWMutex
	snap WeatherSnapshot
}

// NewWeather starts the weather feed.
func NewWeather(deps Deps) *Weather {
	w := &Weather{}
	t := mqtt.Topics{}
	w.feed = newFeed("weather", deps, []string{
		t.WeatherPressure(),
		t.WeatherTemperature(),
		t.WeatherHumidity(),
	}, w.handleMessage)
	w.start()
	return w
}

func (w *Weather) handleMessage(topic string, payload []byte) {
	t := mqtt.Topics{}
	now := w.clock.Now()

	switch topic {
	case t.WeatherPressure():
		var msg struct {
			Value *float64 `json:"value"`
			Trend string   `json:"trend"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Value == nil {
			w.dropped(topic, fmt.Errorf("%w: pressure needs {value,trend}", ErrMalformedPayload))
			return
		}
		p := &Pressure{Value: *msg.Value, Trend: msg.Trend, LastUpdate: now}

		w.mu.Lock()
		w.snap.Pressure = p
		w.snap.LastUpdate = now
		w.mu.Unlock()

		w.publishReading("pressure", p.Value)

	case t.WeatherTemperature(), t.WeatherHumidity():
		v, err := parseNumber(payload)
		if err != nil {
			w.dropped(topic, err)
			return
		}
		r := &Reading{Value: v, LastUpdate: now}
		field := mqtt.LastSegment(topic)

		w.mu.Lock()
		if field == "temperature" {
			w.snap.Temperature = r
		} else {
			w.snap.Humidity = r
		}
		w.snap.LastUpdate = now
		w.mu.Unlock()

		w.publishReading(field, v)
	}
}

func (w *Weather) publishReading(field string, value float64) {
	w.broadcast("weather.update", w.Snapshot())
	w.record("weather", map[string]string{"field": field}, map[string]any{"value": value})
}

// Snapshot returns a copy of the latest weather data.
func (w *Weather) Snapshot() WeatherSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := w.snap
	if w.snap.Pressure != nil {
		p := *w.snap.Pressure
		out.Pressure = &p
	}
	if w.snap.Temperature != nil {
		t := *w.snap.Temperature
		out.Temperature = &t
	}
	if w.snap.Humidity != nil {
		h := *w.snap.Humidity
		out.Humidity = &h
	}
	return out
}
