package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is the type-specific body of a game event. Telemetry producers are
// untrusted, so every accessor fails closed: a missing key or a value of the
// wrong shape yields the caller's default, never an error or a panic.
type Payload map[string]any

// String returns the value under key when it is a string, else def.
func (p Payload) String(key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

// Float returns the value under key coerced to float64. JSON numbers decode
// as float64; numeric strings and json.Number are accepted as well because
// the original producers are loose about types.
func (p Payload) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// Int returns the value under key truncated to int64.
func (p Payload) Int(key string, def int64) int64 {
	f := p.Float(key, float64(def))
	return int64(f)
}

// Bool returns the value under key when it is a bool, else def.
func (p Payload) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Has reports whether key is present at all.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}
