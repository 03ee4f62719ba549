// Package expr evaluates field-mapping expressions against a JSON document.
//
// An expression is one of:
//
//	data.symbol             dotted path, sequences indexed by position (items.0.price)
//	symbol                  top-level key, or the literal string when absent
//	data.price * data.qty   one binary operator (* + - /) between two operands
//
// Anything that is neither a resolvable key nor a dotted path is returned
// as a literal string.
package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/xraph/forwarder/coerce"
)

// Reason classifies a resolution failure.
type Reason string

const (
	ReasonMissingPath  Reason = "missing_path"
	ReasonNonNumeric   Reason = "non_numeric"
	ReasonDivideByZero Reason = "divide_by_zero"
)

// ResolutionError is returned when an expression cannot be evaluated.
type ResolutionError struct {
	Expr   string
	Reason Reason
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("expr: %q: %s", e.Expr, e.Reason)
}

// Document is an immutable JSON encoding of a value tree.
type Document struct {
	raw []byte
}

// NewDocument encodes v once so that repeated lookups share the encoding.
func NewDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("expr: encode document: %w", err)
	}
	return Document{raw: raw}, nil
}

// Lookup returns the value at path. A JSON null reports (nil, true).
func (d Document) Lookup(path string) (any, bool) {
	if path == "" || len(d.raw) == 0 {
		return nil, false
	}
	r := gjson.GetBytes(d.raw, path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Resolve evaluates expr against doc.
func Resolve(expr string, doc Document) (any, error) {
	expr = strings.TrimSpace(expr)

	if left, op, right, ok := splitBinary(expr); ok {
		return arithmetic(expr, left, op, right, doc)
	}

	if !simplePath(expr) {
		return expr, nil
	}
	if v, ok := doc.Lookup(expr); ok {
		return v, nil
	}
	if looksLikePath(expr) {
		return nil, &ResolutionError{Expr: expr, Reason: ReasonMissingPath}
	}
	return expr, nil
}

func splitBinary(expr string) (left, op, right string, ok bool) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return "", "", "", false
	}
	switch fields[1] {
	case "*", "+", "-", "/":
		return fields[0], fields[1], fields[2], true
	}
	return "", "", "", false
}

func arithmetic(expr, left, op, right string, doc Document) (any, error) {
	a, err := operand(expr, left, doc)
	if err != nil {
		return nil, err
	}
	b, err := operand(expr, right, doc)
	if err != nil {
		return nil, err
	}

	var out float64
	switch op {
	case "*":
		out = a * b
	case "+":
		out = a + b
	case "-":
		out = a - b
	case "/":
		if b == 0 {
			return nil, &ResolutionError{Expr: expr, Reason: ReasonDivideByZero}
		}
		out = a / b
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return nil, &ResolutionError{Expr: expr, Reason: ReasonNonNumeric}
	}
	return normalize(out), nil
}

func operand(expr, token string, doc Document) (float64, error) {
	if f, err := coerce.Float(token); err == nil {
		return f, nil
	}
	v, err := Resolve(token, doc)
	if err != nil {
		return 0, err
	}
	f, err := coerce.Float(v)
	if err != nil {
		return 0, &ResolutionError{Expr: expr, Reason: ReasonNonNumeric}
	}
	return f, nil
}

// normalize returns whole results as int64 so that 2 * 3 encodes as 6.
func normalize(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func looksLikePath(expr string) bool {
	if !strings.Contains(expr, ".") {
		return false
	}
	_, err := strconv.ParseFloat(expr, 64)
	return err != nil
}

// simplePath keeps gjson wildcards and modifiers out of literal strings.
func simplePath(expr string) bool {
	if expr == "" || strings.HasPrefix(expr, ".") || strings.HasSuffix(expr, ".") {
		return false
	}
	for _, r := range expr {
		switch {
		case r == '.' || r == '_' || r == '-':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}
