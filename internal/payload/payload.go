// Package payload provides a loosely-typed view over inbound webhook JSON.
//
// Upstream platforms disagree on field names, nesting, and types, so every
// accessor is total: missing keys, wrong types, and absent intermediate
// levels all degrade to zero values instead of panicking.
package payload

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload is one decoded webhook body.
type Payload map[string]any

// Has reports whether key is present, regardless of its value.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Get returns the raw value for key.
func (p Payload) Get(key string) any {
	if p == nil {
		return nil
	}
	return p[key]
}

// Dict returns the nested object at key, or nil when absent or not an object.
func (p Payload) Dict(key string) Payload {
	switch v := p.Get(key).(type) {
	case Payload:
		return v
	case map[string]any:
		return Payload(v)
	default:
		return nil
	}
}

// Slice returns the array at key, or nil when absent or not an array.
func (p Payload) Slice(key string) []any {
	v, _ := p.Get(key).([]any)
	return v
}

// Path walks nested objects and returns the value at the end of the chain.
// Any absent or non-object intermediate level yields (nil, false).
func (p Payload) Path(keys ...string) (any, bool) {
	cur := p
	for i, k := range keys {
		if i == len(keys)-1 {
			if cur == nil || !cur.Has(k) {
				return nil, false
			}
			return cur[k], true
		}
		cur = cur.Dict(k)
		if cur == nil {
			return nil, false
		}
	}
	return nil, false
}

// String returns the first non-empty stringification among the given keys.
func (p Payload) String(keys ...string) string {
	for _, k := range keys {
		if s := Stringify(p.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

// First returns the first truthy value among the given keys.
func (p Payload) First(keys ...string) any {
	for _, k := range keys {
		if v := p.Get(k); Truthy(v) {
			return v
		}
	}
	return nil
}

// Contains reports whether the serialized payload contains the (lowercase)
// substring. Used by platform fingerprints that match anywhere in the body.
func (p Payload) Contains(sub string) bool {
	b, err := json.Marshal(p)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(b)), sub)
}

// Clone returns a shallow copy, so call sites can overlay overrides without
// mutating the caller's map.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Truthy mirrors the loose emptiness rules the fallback chains rely on:
// nil, "", 0, false, empty objects and empty arrays are all falsy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		return t.String() != "" && t.String() != "0"
	case map[string]any:
		return len(t) > 0
	case Payload:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return v != nil
	}
}

// Stringify renders scalars the way upstream ids are written: numbers without
// a spurious exponent or trailing zeros, everything else via plain conversion.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Unwrap resolves one level of object nesting: scalar values pass through,
// objects yield the first truthy inner key (e.g. {"number": ...}, {"value": ...}).
func Unwrap(v any, innerKeys ...string) any {
	d, ok := asDict(v)
	if !ok {
		return v
	}
	for _, k := range innerKeys {
		if inner := d.Get(k); Truthy(inner) {
			return inner
		}
	}
	return nil
}

func asDict(v any) (Payload, bool) {
	switch t := v.(type) {
	case Payload:
		return t, true
	case map[string]any:
		return Payload(t), true
	default:
		return nil, false
	}
}
