// Package payload holds helpers for the JSON-shaped message trees carried
// over the bus.
package payload

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// Infer converts a form-style text value into the most specific scalar it
// represents. Integers win over floats, floats over strings. Surrounding
// whitespace is ignored for numeric matches but kept for strings.
func Infer(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !isSpecialFloat(trimmed) {
		return f
	}

	return text
}

// isSpecialFloat reports values ParseFloat accepts but that have no JSON
// representation.
func isSpecialFloat(s string) bool {
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "inf", "infinity", "nan":
		return true
	}
	return false
}

// FromFields applies Infer to every value of a flat string map.
func FromFields(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = Infer(v)
	}
	return out
}

// ParseField splits a "key=value" pair as given on the command line.
func ParseField(kv string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	return key, value, true
}

// Clone returns a deep copy of a message tree so that later mutation by
// the caller cannot reach a queued send. Maps and slices produced by
// encoding/json are copied recursively; json.RawMessage is copied as
// bytes. Other values are treated as immutable scalars, except for types
// that are not plain JSON trees, which are snapshotted by marshalling.
func Clone(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return append([]string(nil), t...)
	case json.RawMessage:
		return append(json.RawMessage(nil), t...)
	default:
		return snapshot(t)
	}
}

// snapshot freezes an arbitrary value through a JSON round trip. Values
// that cannot be marshalled are returned unchanged.
func snapshot(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
