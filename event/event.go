// Package event defines the canonical in-flight event produced by
// preprocessing and templating.
package event

import (
	"encoding/json"
	"maps"

	"github.com/xraph/forwarder/coerce"
)

// Well-known keys.
const (
	KeyEventType   = "event_type"
	KeyDescription = "description"
	KeyData        = "data"
	KeySymbol      = "symbol"
	KeyRoute       = "_route"
)

// TypeUnknown is assigned when no template, payload or route names a type.
const TypeUnknown = "unknown"

// Event is a canonical mapping of string keys to JSON-shaped values.
type Event map[string]any

// Type returns the event_type field, or "" when absent or not a string.
func (e Event) Type() string {
	s, _ := e[KeyEventType].(string)
	return s
}

// Description returns the description field stringified.
func (e Event) Description() string {
	v, ok := e[KeyDescription]
	if !ok {
		return ""
	}
	return coerce.String(v)
}

// Data returns the nested data mapping, or nil.
func (e Event) Data() map[string]any {
	d, _ := e[KeyData].(map[string]any)
	return d
}

// Symbol looks up the symbol at the top level, then under data.
func (e Event) Symbol() (string, bool) {
	if v, ok := e[KeySymbol]; ok && v != nil {
		return coerce.String(v), true
	}
	if v, ok := e.Data()[KeySymbol]; ok && v != nil {
		return coerce.String(v), true
	}
	return "", false
}

// Fields flattens the event into the context used by text formats: every
// primitive top-level value, then every primitive value under data. Values
// under data win on conflict.
func (e Event) Fields() map[string]any {
	out := make(map[string]any, len(e))
	for k, v := range e {
		if primitive(v) {
			out[k] = v
		}
	}
	for k, v := range e.Data() {
		if primitive(v) {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy.
func (e Event) Clone() Event {
	return maps.Clone(e)
}

// JSON returns the compact encoding of the event, or "{}" if it cannot be
// encoded.
func (e Event) JSON() string {
	raw, err := json.Marshal(map[string]any(e))
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func primitive(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, json.Number:
		return true
	}
	return false
}
