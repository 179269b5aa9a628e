// Package schema validates and normalizes event payloads before dispatch.
//
// A Schema receives the payload of an event as a map and returns the map that
// is actually dispatched, which lets a schema fill defaults or coerce values.
// Schemas are looked up by event name in a Registry; the last registration
// for a name wins.
//
// # Basic Usage
//
//	orders := schema.NewJSONSchema("order_created").
//	    WithRequired("order_id").
//	    WithProperty("order_id", "string").
//	    WithProperty("total", "number").
//	    WithDefault("currency", "EUR")
//	schema.MustRegister(orders)
//
//	// Typed models validate through their own struct
//	schema.MustRegister(schema.NewStructSchema[OrderShipped]())
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPayload indicates the payload doesn't match the schema.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrMissingEventName is returned when a schema is registered without an
	// event name and the schema does not declare one.
	ErrMissingEventName = errors.New("missing event name for schema registration")
)

// Schema validates a payload and returns its normalized form.
// A nil payload is passed through as nil; schemas decide whether that is valid.
type Schema interface {
	Validate(payload map[string]any) (map[string]any, error)
}

// Named is implemented by schemas that know the event they describe.
type Named interface {
	EventName() string
}

// Func adapts a function to the Schema interface.
type Func func(payload map[string]any) (map[string]any, error)

// Validate calls f(payload).
func (f Func) Validate(payload map[string]any) (map[string]any, error) {
	return f(payload)
}

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationError carries every field error reported for one payload.
type ValidationError struct {
	Schema string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	msg := strings.Join(parts, "; ")
	if e.Schema != "" {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidPayload, e.Schema, msg)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPayload, msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// FieldErrors returns the field errors carried by err, or nil.
func FieldErrors(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}
