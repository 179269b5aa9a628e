package serializer

import (
	"bytes"
	"errors"

	"github.com/rbaliyan/eventscope"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack implements Codec using MessagePack.
// It is more compact than JSON while staying schema-less.
type MsgPack struct{}

// Encode serializes the event as a MessagePack envelope.
func (MsgPack) Encode(ev eventscope.Event) ([]byte, error) {
	data, err := msgpack.Marshal(&envelope{Name: ev.Name, Payload: ev.Payload})
	if err != nil {
		return nil, errors.Join(ErrEncodeFailure, err)
	}
	return data, nil
}

// Decode parses a MessagePack envelope. Maps come back as map[string]any and
// numbers widen to int64, uint64 or float64.
func (MsgPack) Decode(data []byte) (eventscope.Event, error) {
	var env envelope
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&env); err != nil {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, err)
	}
	if env.Name == "" {
		return eventscope.Event{}, errors.Join(ErrDecodeFailure, eventscope.ErrMissingEventName)
	}
	return eventscope.Event{Name: env.Name, Payload: env.Payload}, nil
}

// ContentType returns "application/msgpack".
func (MsgPack) ContentType() string {
	return "application/msgpack"
}

// Name returns "msgpack".
func (MsgPack) Name() string {
	return "msgpack"
}

var _ Codec = MsgPack{}

func init() {
	Register(MsgPack{})
}
