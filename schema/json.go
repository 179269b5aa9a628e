package schema

import (
	"encoding/json"
	"maps"
	"slices"
)

// JSONSchema checks required fields and basic JSON types of a map payload.
//
// Supported types:
//   - "string": Go string
//   - "number": any Go integer or float, or json.Number
//   - "boolean": Go bool
//   - "array": Go []any
//   - "object": Go map[string]any
//
// Unknown type names accept any value. Defaults are copied into the
// returned payload for missing fields, the input map is never modified.
type JSONSchema struct {
	name       string
	required   []string
	properties map[string]string
	defaults   map[string]any
	strict     bool
}

// NewJSONSchema creates a schema for the named event.
func NewJSONSchema(name string) *JSONSchema {
	return &JSONSchema{
		name:       name,
		properties: make(map[string]string),
		defaults:   make(map[string]any),
	}
}

// EventName returns the event the schema describes.
func (s *JSONSchema) EventName() string {
	return s.name
}

// WithRequired sets the required fields, replacing earlier ones.
func (s *JSONSchema) WithRequired(fields ...string) *JSONSchema {
	s.required = fields
	return s
}

// WithProperty adds a type constraint for a field. Missing fields are
// ignored unless required.
func (s *JSONSchema) WithProperty(name, typ string) *JSONSchema {
	s.properties[name] = typ
	return s
}

// WithDefault sets the value used when a field is absent.
func (s *JSONSchema) WithDefault(name string, value any) *JSONSchema {
	s.defaults[name] = value
	return s
}

// Strict rejects fields without a declared property.
func (s *JSONSchema) Strict() *JSONSchema {
	s.strict = true
	return s
}

// Validate checks payload and returns a copy with defaults applied.
// Every violation is reported in one *ValidationError.
func (s *JSONSchema) Validate(payload map[string]any) (map[string]any, error) {
	out := maps.Clone(payload)
	if out == nil {
		out = make(map[string]any, len(s.defaults))
	}
	for name, value := range s.defaults {
		if _, ok := out[name]; !ok {
			out[name] = value
		}
	}

	var fields []FieldError
	for _, field := range s.required {
		if _, ok := out[field]; !ok {
			fields = append(fields, FieldError{Field: field, Message: "field required"})
		}
	}
	for _, name := range slices.Sorted(maps.Keys(s.properties)) {
		value, ok := out[name]
		if !ok {
			continue
		}
		if expected := s.properties[name]; !checkType(value, expected) {
			fields = append(fields, FieldError{Field: name, Message: "should be " + expected})
		}
	}
	if s.strict {
		for _, name := range slices.Sorted(maps.Keys(out)) {
			if _, ok := s.properties[name]; !ok {
				fields = append(fields, FieldError{Field: name, Message: "extra field not permitted"})
			}
		}
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Schema: s.name, Fields: fields}
	}
	return out, nil
}

func checkType(value any, expectedType string) bool {
	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// Compile-time check
var _ Schema = (*JSONSchema)(nil)
