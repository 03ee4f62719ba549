// Package coerce converts single values to a target primitive type.
//
// Supported specs:
//
//	"to_string"      any primitive, composites are JSON encoded
//	"to_int"         int64 from numbers and base-10 strings
//	"to_float"       float64 from finite numbers and decimal strings
//	"to_bool"        true/false/1/0/yes/no, case-insensitive
//	"format:<fmt>"   substitutes ${value} or {value} inside <fmt>
package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Spec names.
const (
	ToString     = "to_string"
	ToInt        = "to_int"
	ToFloat      = "to_float"
	ToBool       = "to_bool"
	FormatPrefix = "format:"
)

// Reason classifies a coercion failure.
type Reason string

const (
	ReasonBadNumeric  Reason = "bad_numeric"
	ReasonBadBool     Reason = "bad_bool"
	ReasonUnknownSpec Reason = "unknown_spec"
)

// CoercionError is returned when a value cannot be converted.
type CoercionError struct {
	Spec   string
	Reason Reason
	Value  any
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("coerce: %s: %s (value %v)", e.Spec, e.Reason, e.Value)
}

// Coerce converts value according to spec.
func Coerce(value any, spec string) (any, error) {
	switch {
	case spec == ToString:
		return String(value), nil
	case spec == ToInt:
		return Int(value)
	case spec == ToFloat:
		return Float(value)
	case spec == ToBool:
		return Bool(value)
	case strings.HasPrefix(spec, FormatPrefix):
		return Format(strings.TrimPrefix(spec, FormatPrefix), value), nil
	default:
		return nil, &CoercionError{Spec: spec, Reason: ReasonUnknownSpec, Value: value}
	}
}

// Valid reports whether spec names a known coercion.
func Valid(spec string) bool {
	switch spec {
	case ToString, ToInt, ToFloat, ToBool:
		return true
	}
	return strings.HasPrefix(spec, FormatPrefix)
}

// String stringifies any value. Maps and slices are JSON encoded, nil is "".
func String(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
	if s, err := cast.ToStringE(value); err == nil {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// Int converts value to int64. Strings are read in base 10 only; a whole
// decimal such as "3.0" is accepted, "3.5" is not. Floats are truncated.
func Int(value any) (int64, error) {
	bad := &CoercionError{Spec: ToInt, Reason: ReasonBadNumeric, Value: value}
	if !numericInput(value) {
		return 0, bad
	}

	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := parseDecimal(s)
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, bad
		}
		return int64(f), nil
	}

	if f, err := cast.ToFloat64E(value); err == nil && !finite(f) {
		return 0, bad
	}
	n, err := cast.ToInt64E(value)
	if err != nil {
		return 0, bad
	}
	return n, nil
}

// Float converts value to float64. NaN and infinities are rejected because
// they cannot be encoded as JSON.
func Float(value any) (float64, error) {
	bad := &CoercionError{Spec: ToFloat, Reason: ReasonBadNumeric, Value: value}
	if !numericInput(value) {
		return 0, bad
	}

	var (
		f   float64
		err error
	)
	if s, ok := value.(string); ok {
		f, err = parseDecimal(strings.TrimSpace(s))
	} else {
		f, err = cast.ToFloat64E(value)
	}
	if err != nil || !finite(f) {
		return 0, bad
	}
	return f, nil
}

// parseDecimal parses a plain decimal number, optionally signed and with an
// exponent. Hex, binary, octal prefixes and the NaN and Inf spellings are
// rejected.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '+', r == '-', r == 'e', r == 'E':
		default:
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseFloat(s, 64)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Bool converts value to bool.
func Bool(value any) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	if value == nil {
		return false, &CoercionError{Spec: ToBool, Reason: ReasonBadBool, Value: value}
	}
	switch strings.ToLower(strings.TrimSpace(String(value))) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, &CoercionError{Spec: ToBool, Reason: ReasonBadBool, Value: value}
}

// Format substitutes the string form of value for ${value} and {value} in f.
// A format without a token is returned unchanged.
func Format(f string, value any) string {
	s := String(value)
	f = strings.ReplaceAll(f, "${value}", s)
	return strings.ReplaceAll(f, "{value}", s)
}

// numericInput rejects inputs cast would silently turn into zero.
func numericInput(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case map[string]any, []any:
		return false
	}
	return true
}

