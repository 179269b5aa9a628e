package serializer

import (
	"encoding/json"
	"errors"

	"github.com/rbaliyan/eventscope"
)

// JSON implements Codec using encoding/json.
type JSON struct{}

// Encode serializes the event as a JSON envelope.
func (JSON) Encode(ev eventscope.Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Name: ev.Name, Payload: ev.Payload})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode parses a JSON envelope.
func (JSON) Decode(data []byte) (eventscope.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, err)
	}
	if env.Name == "" {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, eventscope.ErrMissingEventName)
	}
	return eventscope.Event{Name: env.Name, Payload: env.Payload}, nil
}

// ContentType returns "application/json".
func (JSON) ContentType() string {
	return "application/json"
}

// Name returns "json".
func (JSON) Name() string {
	return "json"
}

var _ Codec = JSON{}
