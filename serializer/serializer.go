// Package serializer encodes events for forwarding handlers.
//
// Every codec writes the same envelope, an object with the event name and
// payload, so a consumer on the other side of a stream or subject can recover
// the original event regardless of the wire format:
//
//	{"name": "user_created", "payload": {"id": 7}}
//
// JSON is the default. MsgPack and Proto are registered at init. Consumers
// of forwarded messages pass the content type header to Decode to pick the
// matching codec.
package serializer

import (
	"errors"

	"github.com/rbaliyan/eventscope"
)

// Serializer errors
var (
	ErrEncodeFailure = errors.New("failed to encode event")
	ErrDecodeFailure = errors.New("failed to decode event")
)

// Codec converts events to bytes and back.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes an event envelope.
	Encode(ev eventscope.Event) ([]byte, error)

	// Decode restores an event. Structured payloads come back as
	// map[string]any, since the original Go type is not on the wire.
	Decode(data []byte) (eventscope.Event, error)

	// ContentType returns the MIME type, e.g. "application/json".
	ContentType() string

	// Name returns a short identifier such as "json" or "msgpack".
	Name() string
}

// envelope is the wire shape shared by JSON and MsgPack.
type envelope struct {
	Name    string `json:"name" msgpack:"name"`
	Payload any    `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Default returns the default codec (JSON).
func Default() Codec {
	return JSON{}
}
