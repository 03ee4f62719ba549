// Package template renders {placeholder} tokens inside JSON-shaped values and
// assembles canonical events from named templates.
package template

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xraph/forwarder/coerce"
	"github.com/xraph/forwarder/event"
)

var placeholder = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Template is a reusable shape for assembling a canonical event from a
// preprocessed mapping.
type Template struct {
	EventType   string         `json:"event_type" yaml:"event_type"`
	Description string         `json:"description" yaml:"description"`
	Data        map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Apply renders the template against ctx and returns the canonical event.
func (t *Template) Apply(ctx map[string]any) event.Event {
	evt := event.Event{
		event.KeyDescription: Render(t.Description, ctx),
	}
	if t.EventType != "" {
		evt[event.KeyEventType] = t.EventType
	}
	if len(t.Data) > 0 {
		evt[event.KeyData] = Render(t.Data, ctx)
	}
	return evt
}

// Render substitutes placeholders in every string reachable from v.
//
// A string made of a single placeholder is replaced by the referenced value
// itself, so numbers and booleans keep their type. Placeholders embedded in
// longer strings are stringified. Unresolved placeholders are left intact.
func Render(v any, ctx map[string]any) any {
	switch tv := v.(type) {
	case string:
		return renderString(tv, ctx)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			out[k] = Render(child, ctx)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			out[i] = Render(child, ctx)
		}
		return out
	default:
		return v
	}
}

// RenderString renders s and always returns a string.
func RenderString(s string, ctx map[string]any) string {
	return coerce.String(renderString(s, ctx))
}

func renderString(s string, ctx map[string]any) any {
	if !strings.Contains(s, "{") {
		return s
	}
	if m := placeholder.FindStringSubmatch(s); m != nil && m[0] == s {
		if val, ok := Lookup(ctx, m[1]); ok {
			return val
		}
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(token string) string {
		if val, ok := Lookup(ctx, token[1:len(token)-1]); ok {
			return coerce.String(val)
		}
		return token
	})
}

// Lookup finds name in ctx, first as an exact key and then as a dotted
// path through nested mappings and sequences.
func Lookup(ctx map[string]any, name string) (any, bool) {
	if v, ok := ctx[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}

	var cur any = ctx
	for _, part := range strings.Split(name, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case event.Event:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
