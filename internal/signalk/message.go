package signalk

import (
	"encoding/json"
	"fmt"
	"time"
)

// Hello is the greeting a SignalK server sends when a stream opens.
type Hello struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Self      string   `json:"self"`
	Roles     []string `json:"roles,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Delta carries one or more updates for a context.
type Delta struct {
	Context string   `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

// Update is a batch of values from one source at one timestamp.
type Update struct {
	Source    *Source     `json:"source,omitempty"`
	SourceRef string      `json:"$source,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Values    []PathValue `json:"values"`
}

// Source identifies the device that produced an update.
type Source struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// PathValue is a single path/value pair inside an update.
type PathValue struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// Value is one fanned-out path/value pair with its update metadata.
type Value struct {
	Context   string    `json:"context,omitempty"`
	Path      string    `json:"path"`
	Value     any       `json:"value"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Message is a decoded frame. At most one of Hello and Delta is set; both
// nil means the frame was valid JSON of no interest.
type Message struct {
	Hello *Hello
	Delta *Delta
}

// probe is decoded first to classify a frame by shape.
type probe struct {
	Self    json.RawMessage `json:"self"`
	Updates json.RawMessage `json:"updates"`
}

// Decode classifies and decodes a frame.
//
// A JSON object with a string "self" is a hello. An object whose "updates"
// is an array is a delta. Anything else decodes to an empty Message.
func Decode(data []byte) (Message, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}

	if isJSONString(p.Self) {
		var h Hello
		if err := json.Unmarshal(data, &h); err != nil {
			return Message{}, fmt.Errorf("%w: hello: %w", ErrUndecodable, err)
		}
		return Message{Hello: &h}, nil
	}

	if isJSONArray(p.Updates) {
		var d Delta
		if err := json.Unmarshal(data, &d); err != nil {
			return Message{}, fmt.Errorf("%w: delta: %w", ErrUndecodable, err)
		}
		return Message{Delta: &d}, nil
	}

	return Message{}, nil
}

// Values flattens a delta into path/value pairs in wire order.
// Pairs are neither batched nor de-duplicated.
func (d *Delta) Values() []Value {
	var out []Value
	for _, u := range d.Updates {
		source := u.SourceRef
		if source == "" && u.Source != nil {
			source = u.Source.Label
		}
		ts, _ := time.Parse(time.RFC3339Nano, u.Timestamp)

		for _, pv := range u.Values {
			var v any
			if len(pv.Value) > 0 {
				_ = json.Unmarshal(pv.Value, &v)
			}
			out = append(out, Value{
				Context:   d.Context,
				Path:      pv.Path,
				Value:     v,
				Source:    source,
				Timestamp: ts,
			})
		}
	}
	return out
}

func isJSONString(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '"'
}

func isJSONArray(raw json.RawMessage) bool {
	return len(raw) > 0 && raw[0] == '['
}
