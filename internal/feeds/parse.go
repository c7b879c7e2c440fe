package feeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Domain-specific errors for feed operations.
var (
	// ErrMalformedPayload marks a message that could not be parsed. Such
	// messages are logged and ignored.
	ErrMalformedPayload = errors.New("feeds: malformed payload")

	// ErrUnknownRelay is returned for a relay ID that is not configured.
	ErrUnknownRelay = errors.New("feeds: unknown relay")

	// ErrUnknownMode is returned for an unrecognised inverter mode.
	ErrUnknownMode = errors.New("feeds: unknown inverter mode")
)

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// sortedValues returns map values ordered by key.
func sortedValues[V any](m map[string]V) []V {
	out := make([]V, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[k])
	}
	return out
}

// parseNumber accepts a bare number or a JSON object with a numeric
// "value" field.
func parseNumber(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, nil
	}

	var wrapped struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if wrapped.Value == nil {
		return 0, fmt.Errorf("%w: missing value", ErrMalformedPayload)
	}
	return *wrapped.Value, nil
}
