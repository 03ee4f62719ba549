// Package preprocess reshapes raw inbound payloads according to a
// declarative Spec before templating.
//
// Steps run in a fixed order: field_mapping, transformations,
// include_fields, add_fields.
package preprocess

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/xraph/forwarder/coerce"
	"github.com/xraph/forwarder/expr"
)

// Spec describes how a payload is reshaped.
type Spec struct {
	// FieldMapping maps destination fields to source expressions.
	FieldMapping map[string]string `json:"field_mapping,omitempty" yaml:"field_mapping,omitempty"`

	// Transformations maps fields to coercion specs (to_int, format:..., ...).
	Transformations map[string]string `json:"transformations,omitempty" yaml:"transformations,omitempty"`

	// IncludeFields restricts the output to exactly these keys when non-nil.
	IncludeFields []string `json:"include_fields,omitempty" yaml:"include_fields,omitempty"`

	// AddFields are literal values merged last, overriding existing keys.
	AddFields map[string]any `json:"add_fields,omitempty" yaml:"add_fields,omitempty"`

	// MergeMapped merges mapped fields over a copy of the payload instead of
	// producing a new mapping.
	MergeMapped bool `json:"merge_mapped,omitempty" yaml:"merge_mapped,omitempty"`
}

// Validate checks that every transformation names a known coercion.
func (s *Spec) Validate() error {
	if s == nil {
		return nil
	}
	for _, field := range slices.Sorted(maps.Keys(s.Transformations)) {
		if spec := s.Transformations[field]; !coerce.Valid(spec) {
			return fmt.Errorf("preprocess: field %q: unknown transformation %q", field, spec)
		}
	}
	return nil
}

// Apply runs spec against raw and returns a new mapping. raw is never
// modified. A nil spec returns a copy of the payload.
//
// Unresolvable field_mapping sources produce nil values. Fields whose
// coercion fails are removed and logged at warn.
func Apply(raw any, spec *Spec, logger *slog.Logger) map[string]any {
	if logger == nil {
		logger = slog.Default()
	}

	payload := AsMapping(raw)
	if spec == nil {
		return payload
	}

	out := payload
	if len(spec.FieldMapping) > 0 {
		out = mapFields(payload, spec, logger)
	}

	for _, field := range slices.Sorted(maps.Keys(spec.Transformations)) {
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		converted, err := coerce.Coerce(v, spec.Transformations[field])
		if err != nil {
			logger.Warn("preprocess: dropping field",
				"field", field,
				"transformation", spec.Transformations[field],
				"error", err,
			)
			delete(out, field)
			continue
		}
		out[field] = converted
	}

	if spec.IncludeFields != nil {
		kept := make(map[string]any, len(spec.IncludeFields))
		for _, field := range spec.IncludeFields {
			if v, ok := out[field]; ok {
				kept[field] = v
			}
		}
		out = kept
	}

	for k, v := range spec.AddFields {
		out[k] = v
	}

	return out
}

func mapFields(payload map[string]any, spec *Spec, logger *slog.Logger) map[string]any {
	var out map[string]any
	if spec.MergeMapped {
		out = payload
	} else {
		out = make(map[string]any, len(spec.FieldMapping))
	}

	doc, err := expr.NewDocument(payload)
	if err != nil {
		logger.Warn("preprocess: payload not encodable, mapped fields are null", "error", err)
	}

	for _, dest := range slices.Sorted(maps.Keys(spec.FieldMapping)) {
		v, err := expr.Resolve(spec.FieldMapping[dest], doc)
		if err != nil {
			logger.Debug("preprocess: unresolved source",
				"field", dest,
				"source", spec.FieldMapping[dest],
				"error", err,
			)
			v = nil
		}
		out[dest] = v
	}
	return out
}

// AsMapping returns a shallow copy of raw when it is a mapping and wraps any
// other value as {"data": raw}.
func AsMapping(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return maps.Clone(v)
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"data": v}
	}
}
