// Package usage validates the telemetry records clients submit for ingestion.
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const DefaultStatus = "success"

// Record is one validated usage report for a single upstream LLM call.
type Record struct {
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	LatencyMs    int64
	Status       string
	ErrorMessage *string
	Tags         map[string]any
}

// FieldError describes one violated constraint. Field is empty when the
// violation concerns the body as a whole.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field that failed validation.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if d.Field == "" {
			parts = append(parts, d.Message)
			continue
		}
		parts = append(parts, d.Field+": "+d.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type validator struct {
	obj     map[string]any
	details []FieldError
}

func (v *validator) fail(field, format string, args ...any) {
	v.details = append(v.details, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Decode reads a JSON body and validates it. Malformed JSON is reported as
// a validation failure rather than an I/O error.
func Decode(r io.Reader) (*Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Details: []FieldError{{Message: "invalid JSON"}}}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Details: []FieldError{{Message: "invalid JSON: trailing data"}}}
	}
	return Validate(raw)
}

// Validate converts a decoded JSON value into a Record. Either every
// constraint holds and a Record is returned, or a *ValidationError listing
// all violations is returned.
func Validate(raw any) (*Record, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Details: []FieldError{{Message: "expected a JSON object"}}}
	}

	v := &validator{obj: obj}
	rec := &Record{
		Provider:     v.requiredString("provider"),
		Model:        v.requiredString("model"),
		InputTokens:  v.count("inputTokens"),
		OutputTokens: v.count("outputTokens"),
		LatencyMs:    v.count("latencyMs"),
		Status:       v.status("status"),
		ErrorMessage: v.optionalString("errorMessage"),
		Tags:         v.tags("tags"),
	}

	if len(v.details) > 0 {
		return nil, &ValidationError{Details: v.details}
	}
	return rec, nil
}

func (v *validator) lookup(field string) (any, bool) {
	val, ok := v.obj[field]
	if !ok || val == nil {
		return nil, false
	}
	return val, true
}

func (v *validator) requiredString(field string) string {
	val, ok := v.lookup(field)
	if !ok {
		v.fail(field, "is required")
		return ""
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, "expected string, got %s", typeName(val))
		return ""
	}
	if s == "" {
		v.fail(field, "must not be empty")
		return ""
	}
	return s
}

func (v *validator) optionalString(field string) *string {
	val, ok := v.lookup(field)
	if !ok {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, "expected string, got %s", typeName(val))
		return nil
	}
	return &s
}

// status falls back to DefaultStatus when the field is absent, null or "".
func (v *validator) status(field string) string {
	val, ok := v.lookup(field)
	if !ok {
		return DefaultStatus
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, "expected string, got %s", typeName(val))
		return ""
	}
	if s == "" {
		return DefaultStatus
	}
	return s
}

// count accepts a non-negative integer. Values arrive as json.Number when
// decoded with UseNumber and as float64 otherwise.
func (v *validator) count(field string) int64 {
	val, ok := v.lookup(field)
	if !ok {
		v.fail(field, "is required")
		return 0
	}

	var n int64
	switch x := val.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
				v.fail(field, "expected integer, got %s", x.String())
				return 0
			}
			i = int64(f)
		}
		n = i
	case float64:
		if x != math.Trunc(x) || math.Abs(x) >= math.MaxInt64 {
			v.fail(field, "expected integer, got %v", x)
			return 0
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		v.fail(field, "expected integer, got %s", typeName(val))
		return 0
	}

	if n < 0 {
		v.fail(field, "must be non-negative")
		return 0
	}
	return n
}

func (v *validator) tags(field string) map[string]any {
	val, ok := v.lookup(field)
	if !ok {
		return nil
	}
	m, ok := val.(map[string]any)
	if !ok {
		v.fail(field, "expected object, got %s", typeName(val))
		return nil
	}
	return m
}

func typeName(val any) string {
	switch val.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", val)
	}
}
