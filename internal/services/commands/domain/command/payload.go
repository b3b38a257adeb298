package command

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Payload keys with meaning to the engine rather than to an entity.
const (
	PayloadLocalID         = "local_id"
	PayloadID              = "id"
	PayloadParentLocalID   = "parent_entity_local_id"
	PayloadExpectedVersion = "expected_version"
)

// Payload is the decoded JSON object carried by a command.
type Payload map[string]any

// Clone returns a shallow copy; nil stays nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether key exists with a non-nil value.
func (p Payload) Has(key string) bool {
	if p == nil {
		return false
	}
	v, ok := p[key]
	return ok && v != nil
}

// String returns the trimmed string at key, or "" when absent or non-string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, ok := p[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Int64 returns the integer at key. Decoded JSON numbers arrive as float64 or
// json.Number; fractional values are rejected.
func (p Payload) Int64(key string) (int64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Without returns a copy with the given keys removed.
func (p Payload) Without(keys ...string) Payload {
	out := p.Clone()
	if out == nil {
		return Payload{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
