package eventscope

import (
	"github.com/rbaliyan/eventscope/internal/naming"
)

// Event is a named occurrence and its payload.
//
// Events are values; handlers must not mutate a payload they receive since
// the same payload is shared by every handler of a fan-out.
type Event struct {
	Name    string
	Payload any
}

// Named is implemented by typed payload models that declare their event name.
//
//	type UserCreated struct {
//	    ID string `json:"id"`
//	}
//
//	func (UserCreated) EventName() string { return "user_created" }
type Named interface {
	EventName() string
}

// NameOf normalizes an event name tag to a string. Strings pass through,
// fmt.Stringer values use String, and named string or integer types are
// converted from their underlying value.
func NameOf(v any) (string, bool) {
	return naming.Of(v)
}
