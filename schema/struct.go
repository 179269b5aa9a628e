package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validator is implemented by payload structs with their own rules.
type Validator interface {
	Validate() error
}

// StructSchema validates a payload by decoding it into T.
//
// The payload is decoded through its JSON form, T.Validate runs when T
// implements Validator, and the decoded value is encoded back into the map
// that gets dispatched. Field names therefore follow T's json tags.
type StructSchema[T any] struct {
	name   string
	strict bool
}

// StructOption configures a StructSchema.
type StructOption func(*structOptions)

type structOptions struct {
	name   string
	strict bool
}

// WithEventName sets the event name; by default it is taken from T when T
// implements Named.
func WithEventName(name string) StructOption {
	return func(o *structOptions) {
		o.name = name
	}
}

// DisallowUnknownFields rejects payload keys that T does not declare.
func DisallowUnknownFields() StructOption {
	return func(o *structOptions) {
		o.strict = true
	}
}

// NewStructSchema creates a schema backed by T.
func NewStructSchema[T any](opts ...StructOption) *StructSchema[T] {
	o := &structOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.name == "" {
		var zero T
		if n, ok := any(zero).(Named); ok {
			o.name = n.EventName()
		} else if n, ok := any(&zero).(Named); ok {
			o.name = n.EventName()
		}
	}
	return &StructSchema[T]{name: o.name, strict: o.strict}
}

// EventName returns the event the schema describes.
func (s *StructSchema[T]) EventName() string {
	return s.name
}

// Validate decodes payload into T, applies T's own rules and returns the
// normalized map.
func (s *StructSchema[T]) Validate(payload map[string]any) (map[string]any, error) {
	v, err := s.Decode(payload)
	if err != nil {
		return nil, err
	}
	out, err := ToMap(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out, nil
}

// Decode converts payload into T and runs T's validation.
func (s *StructSchema[T]) Decode(payload map[string]any) (T, error) {
	var v T
	data, err := json.Marshal(payload)
	if err != nil {
		return v, &ValidationError{Schema: s.name, Fields: []FieldError{{Message: err.Error()}}}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if s.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&v); err != nil {
		return v, &ValidationError{Schema: s.name, Fields: []FieldError{decodeFieldError(err)}}
	}
	if err := validate(&v); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return v, err
		}
		return v, &ValidationError{Schema: s.name, Fields: []FieldError{{Message: err.Error()}}}
	}
	return v, nil
}

func validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}

func decodeFieldError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return FieldError{Field: typeErr.Field, Message: "should be " + typeErr.Type.String()}
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return FieldError{Field: strings.Trim(rest, `"`), Message: "extra field not permitted"}
	}
	return FieldError{Message: msg}
}

// ToMap converts a struct (or anything JSON-encodable as an object) into a
// map keyed by its JSON field names.
func ToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
