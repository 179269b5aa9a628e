package eventscope

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration and lookup errors returned synchronously to the caller.
// Use errors.Is() to check for these errors as they are usually wrapped
// with the offending name or identifier.
var (
	// ErrConflictingPayload is returned when a typed model and a raw payload
	// are both given to a single dispatch call.
	ErrConflictingPayload = errors.New("conflicting payload sources")

	// ErrMissingEventName is returned when no event name can be derived.
	ErrMissingEventName = errors.New("missing event name")

	// ErrPayloadValidation wraps the error returned by a payload schema.
	ErrPayloadValidation = errors.New("payload validation failed")

	// ErrInvalidPayloadType is returned when a payload that must be validated
	// is neither nil nor a map[string]any.
	ErrInvalidPayloadType = errors.New("payload must be nil or map[string]any")

	// ErrScopeNotFound is returned when no handlers are registered for a scope id.
	ErrScopeNotFound = errors.New("no handlers registered for scope")

	// ErrScopeExists is returned when a scope id is registered twice.
	ErrScopeExists = errors.New("scope already registered")

	// ErrScopeActive is returned when a scope is opened inside a live scope
	// with the same id.
	ErrScopeActive = errors.New("scope already active")

	// ErrScopeNotOpen is returned when ending a scope that is not open.
	ErrScopeNotOpen = errors.New("scope not open")

	// ErrInvalidScopeID is returned for an empty scope id.
	ErrInvalidScopeID = errors.New("invalid scope id")

	// ErrInvalidHandler is returned when a nil handler is registered.
	ErrInvalidHandler = errors.New("invalid handler")

	// ErrManagerClosed is returned when opening a scope on a closed manager.
	ErrManagerClosed = errors.New("manager closed")
)

// HandlerError reports the failure of one handler invocation during fan-out.
// Event is empty when the failing invocation was a batch call.
type HandlerError struct {
	Handler string
	Event   string
	Err     error
}

func (e *HandlerError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("handler %s failed: %v", e.Handler, e.Err)
	}
	return fmt.Sprintf("handler %s failed on event %q: %v", e.Handler, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError is produced when a handler panics. The panic value and the
// goroutine stack at the point of recovery are preserved.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// FanoutError aggregates every failed invocation of one fan-out run.
type FanoutError struct {
	Failures []*HandlerError
}

func (e *FanoutError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Error()
	}
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d handler invocations failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *FanoutError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failures returns the handler failures carried by err, or nil.
func Failures(err error) []*HandlerError {
	var fe *FanoutError
	if errors.As(err, &fe) {
		return fe.Failures
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return []*HandlerError{he}
	}
	return nil
}

// IsPanic checks if err was caused by a recovered handler panic.
func IsPanic(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
